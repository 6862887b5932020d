package submission

import "context"

// Repository is the read-side join over the four check-in collections.
// List returns the requested page and the filtered total before windowing.
// Get returns (nil, nil) for an unknown patient.
type Repository interface {
	List(ctx context.Context, f Filter) ([]*Summary, int, error)
	Get(ctx context.Context, patientID int64) (*Detail, error)
}
