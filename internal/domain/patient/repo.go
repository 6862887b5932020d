package patient

import "context"

// Repository stores patients. GetByID returns (nil, nil) when the patient
// does not exist.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
}
