package completion

import "context"

// Repository stores completions. Create must be atomic with respect to the
// one-per-patient rule and return ErrAlreadyCompleted on a duplicate.
type Repository interface {
	Create(ctx context.Context, c *Completion) error
	GetByID(ctx context.Context, id int64) (*Completion, error)
	GetByPatientID(ctx context.Context, patientID int64) (*Completion, error)
	List(ctx context.Context) ([]*Completion, error)
	MarkConfirmationSent(ctx context.Context, patientID int64) error
}
