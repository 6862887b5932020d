package clinical

import "context"

// Repository stores clinical forms. Lookups return (nil, nil) when nothing
// matches.
type Repository interface {
	Create(ctx context.Context, f *ClinicalForm) error
	GetByID(ctx context.Context, id int64) (*ClinicalForm, error)
	GetByPatientID(ctx context.Context, patientID int64) (*ClinicalForm, error)
	List(ctx context.Context) ([]*ClinicalForm, error)
	Update(ctx context.Context, f *ClinicalForm) error
	Delete(ctx context.Context, id int64) error
}
