package clinical

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/checkin/internal/platform/db"
)

type clinicalRepoPG struct{ pool *pgxpool.Pool }

func NewClinicalRepoPG(pool *pgxpool.Pool) Repository {
	return &clinicalRepoPG{pool: pool}
}

func (r *clinicalRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const Columns = `id, patient_id, medical_history, current_medications, allergies, symptoms, created_at`

// ScanRow scans a row selected with Columns.
func ScanRow(row pgx.Row, f *ClinicalForm) error {
	return row.Scan(&f.ID, &f.PatientID, &f.MedicalHistory, &f.CurrentMedications,
		&f.Allergies, &f.Symptoms, &f.CreatedAt)
}

func (r *clinicalRepoPG) Create(ctx context.Context, f *ClinicalForm) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_forms (patient_id, medical_history, current_medications, allergies, symptoms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		f.PatientID, f.MedicalHistory, f.CurrentMedications, f.Allergies, f.Symptoms,
	).Scan(&f.ID, &f.CreatedAt)
	return db.Classify(err)
}

func (r *clinicalRepoPG) getOne(ctx context.Context, sql string, arg int64) (*ClinicalForm, error) {
	var f ClinicalForm
	err := ScanRow(r.conn(ctx).QueryRow(ctx, sql, arg), &f)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &f, nil
}

func (r *clinicalRepoPG) GetByID(ctx context.Context, id int64) (*ClinicalForm, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM clinical_forms WHERE id = $1`, id)
}

func (r *clinicalRepoPG) GetByPatientID(ctx context.Context, patientID int64) (*ClinicalForm, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM clinical_forms WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, patientID)
}

func (r *clinicalRepoPG) List(ctx context.Context) ([]*ClinicalForm, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+Columns+` FROM clinical_forms ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []*ClinicalForm
	for rows.Next() {
		var f ClinicalForm
		if err := ScanRow(rows, &f); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, &f)
	}
	return items, db.Classify(rows.Err())
}

func (r *clinicalRepoPG) Update(ctx context.Context, f *ClinicalForm) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_forms SET medical_history=$2, current_medications=$3, allergies=$4, symptoms=$5
		WHERE id = $1`,
		f.ID, f.MedicalHistory, f.CurrentMedications, f.Allergies, f.Symptoms)
	return db.Classify(err)
}

func (r *clinicalRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_forms WHERE id = $1`, id)
	return db.Classify(err)
}
