package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/checkin/internal/platform/db"
)

type insuranceRepoPG struct{ pool *pgxpool.Pool }

func NewInsuranceRepoPG(pool *pgxpool.Pool) Repository {
	return &insuranceRepoPG{pool: pool}
}

func (r *insuranceRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const Columns = `id, patient_id, provider, policy_number, group_number, subscriber_name,
	card_images, created_at`

// ScanRow scans a row selected with Columns.
func ScanRow(row pgx.Row, ins *Insurance) error {
	var images []byte
	if err := row.Scan(&ins.ID, &ins.PatientID, &ins.Provider, &ins.PolicyNumber, &ins.GroupNumber,
		&ins.SubscriberName, &images, &ins.CreatedAt); err != nil {
		return err
	}
	return decodeImages(images, ins)
}

func decodeImages(raw []byte, ins *Insurance) error {
	ins.CardImages = nil
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &ins.CardImages); err != nil {
		return fmt.Errorf("decode card_images: %w", err)
	}
	return nil
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	return string(b), err
}

func (r *insuranceRepoPG) Create(ctx context.Context, ins *Insurance) error {
	images, err := encodeImages(ins.CardImages)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance (patient_id, provider, policy_number, group_number, subscriber_name, card_images)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id, created_at`,
		ins.PatientID, ins.Provider, ins.PolicyNumber, ins.GroupNumber, ins.SubscriberName, images,
	).Scan(&ins.ID, &ins.CreatedAt)
	return db.Classify(err)
}

func (r *insuranceRepoPG) getOne(ctx context.Context, sql string, arg int64) (*Insurance, error) {
	var ins Insurance
	err := ScanRow(r.conn(ctx).QueryRow(ctx, sql, arg), &ins)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &ins, nil
}

func (r *insuranceRepoPG) GetByID(ctx context.Context, id int64) (*Insurance, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM insurance WHERE id = $1`, id)
}

// GetByPatientID returns the most recent record when a patient re-submitted
// the step.
func (r *insuranceRepoPG) GetByPatientID(ctx context.Context, patientID int64) (*Insurance, error) {
	return r.getOne(ctx, `SELECT `+Columns+` FROM insurance WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, patientID)
}

func (r *insuranceRepoPG) List(ctx context.Context) ([]*Insurance, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+Columns+` FROM insurance ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []*Insurance
	for rows.Next() {
		var ins Insurance
		if err := ScanRow(rows, &ins); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, &ins)
	}
	return items, db.Classify(rows.Err())
}

func (r *insuranceRepoPG) Update(ctx context.Context, ins *Insurance) error {
	images, err := encodeImages(ins.CardImages)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE insurance SET provider=$2, policy_number=$3, group_number=$4,
			subscriber_name=$5, card_images=$6::jsonb
		WHERE id = $1`,
		ins.ID, ins.Provider, ins.PolicyNumber, ins.GroupNumber, ins.SubscriberName, images)
	return db.Classify(err)
}

func (r *insuranceRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM insurance WHERE id = $1`, id)
	return db.Classify(err)
}
