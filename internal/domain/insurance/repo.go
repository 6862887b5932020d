package insurance

import "context"

// Repository stores insurance records. Lookups return (nil, nil) when
// nothing matches. Update and Delete are not used by the check-in flow.
type Repository interface {
	Create(ctx context.Context, ins *Insurance) error
	GetByID(ctx context.Context, id int64) (*Insurance, error)
	GetByPatientID(ctx context.Context, patientID int64) (*Insurance, error)
	List(ctx context.Context) ([]*Insurance, error)
	Update(ctx context.Context, ins *Insurance) error
	Delete(ctx context.Context, id int64) error
}
