package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/checkin/internal/platform/db"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Columns selects date_of_birth as text so it round-trips as YYYY-MM-DD.
const Columns = `id, first_name, last_name, date_of_birth::text, address, phone, email,
	created_at, updated_at`

// ScanRow scans a row selected with Columns. The submission aggregator
// reuses it for its join.
func ScanRow(row pgx.Row, p *Patient) error {
	return row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Address,
		&p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	dob, err := time.Parse(sanitize.DateLayout, p.DateOfBirth)
	if err != nil {
		return fmt.Errorf("date of birth %q: %w", p.DateOfBirth, err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (first_name, last_name, date_of_birth, address, phone, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		p.FirstName, p.LastName, dob, p.Address, p.Phone, p.Email,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return db.Classify(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	err := ScanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+Columns+` FROM patients WHERE id = $1`, id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &p, nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+Columns+` FROM patients ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		var p Patient
		if err := ScanRow(rows, &p); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, &p)
	}
	return items, db.Classify(rows.Err())
}
