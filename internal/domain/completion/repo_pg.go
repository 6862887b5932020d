package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/checkin/internal/platform/db"
)

// uniquePatient is the constraint name from the initial migration.
const uniquePatient = "completions_patient_id_key"

type completionRepoPG struct{ pool *pgxpool.Pool }

func NewCompletionRepoPG(pool *pgxpool.Pool) Repository {
	return &completionRepoPG{pool: pool}
}

func (r *completionRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const Columns = `id, patient_id, completed_at, estimated_wait_time, confirmation_sent`

func ScanRow(row pgx.Row, c *Completion) error {
	return row.Scan(&c.ID, &c.PatientID, &c.CompletedAt, &c.EstimatedWaitTime, &c.ConfirmationSent)
}

func (r *completionRepoPG) Create(ctx context.Context, c *Completion) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO completions (patient_id, estimated_wait_time, confirmation_sent)
		VALUES ($1, $2, $3)
		RETURNING id, completed_at`,
		c.PatientID, c.EstimatedWaitTime, c.ConfirmationSent,
	).Scan(&c.ID, &c.CompletedAt)
	if db.IsUniqueViolation(err, uniquePatient) {
		return fmt.Errorf("%w: %w", ErrAlreadyCompleted, err)
	}
	return db.Classify(err)
}

func (r *completionRepoPG) getOne(ctx context.Context, sql string, arg int64) (*Completion, error) {
	var c Completion
	err := ScanRow(r.conn(ctx).QueryRow(ctx, sql, arg), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &c, nil
}

func (r *completionRepoPG) GetByID(ctx context.Context, id int64) (*Completion, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM completions WHERE id = $1`, id)
}

func (r *completionRepoPG) GetByPatientID(ctx context.Context, patientID int64) (*Completion, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM completions WHERE patient_id = $1`, patientID)
}

func (r *completionRepoPG) List(ctx context.Context) ([]*Completion, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+Columns+` FROM completions ORDER BY completed_at DESC, id DESC`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []*Completion
	for rows.Next() {
		var c Completion
		if err := ScanRow(rows, &c); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, &c)
	}
	return items, db.Classify(rows.Err())
}

func (r *completionRepoPG) MarkConfirmationSent(ctx context.Context, patientID int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE completions SET confirmation_sent = TRUE WHERE patient_id = $1`, patientID)
	return db.Classify(err)
}
