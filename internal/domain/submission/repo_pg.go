package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/checkin/internal/domain/clinical"
	"github.com/ehr/checkin/internal/domain/completion"
	"github.com/ehr/checkin/internal/domain/insurance"
	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type submissionRepoPG struct{ pool *pgxpool.Pool }

// NewSubmissionRepoPG builds the admin join on Postgres. Queries are built
// with goqu in prepared mode and executed on pgx.
func NewSubmissionRepoPG(pool *pgxpool.Pool) Repository {
	return &submissionRepoPG{pool: pool}
}

func (r *submissionRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func existsFor(table string) exp.LiteralExpression {
	sub := dialect.From(goqu.T(table).As("d")).
		Select(goqu.L("1")).
		Where(goqu.I("d.patient_id").Eq(goqu.I("p.id")))
	return goqu.L("EXISTS ?", sub)
}

var (
	hasInsurance = existsFor("insurance")
	hasClinical  = existsFor("clinical_forms")
	createdDay   = goqu.L("(p.created_at AT TIME ZONE 'UTC')::date")
)

// filtered returns the patients/completions join with every filter applied.
func filtered(f Filter) *goqu.SelectDataset {
	ds := dialect.From(goqu.T("patients").As("p")).
		LeftJoin(goqu.T("completions").As("c"), goqu.On(goqu.I("c.patient_id").Eq(goqu.I("p.id")))).
		Prepared(true)

	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + likeEscaper.Replace(term) + "%"
		ds = ds.Where(goqu.Or(
			goqu.I("p.first_name").ILike(pattern),
			goqu.I("p.last_name").ILike(pattern),
			goqu.L("p.first_name || ' ' || p.last_name").ILike(pattern),
		))
	}
	if f.DateFrom != nil {
		ds = ds.Where(createdDay.Gte(*f.DateFrom))
	}
	if f.DateTo != nil {
		ds = ds.Where(createdDay.Lte(*f.DateTo))
	}

	switch f.Status {
	case StatusCompleted:
		ds = ds.Where(goqu.I("c.id").IsNotNull())
	case StatusIncomplete:
		ds = ds.Where(goqu.I("c.id").IsNull())
	case StatusPartial:
		ds = ds.Where(goqu.I("c.id").IsNull(), goqu.Or(hasInsurance, hasClinical))
	}
	return ds
}

func listQuery(f Filter) (string, []any, error) {
	ds := filtered(f).
		Select(
			goqu.I("p.id"), goqu.I("p.first_name"), goqu.I("p.last_name"),
			goqu.I("p.email"), goqu.I("p.phone"), goqu.I("p.created_at"),
			goqu.I("c.completed_at"), goqu.I("c.estimated_wait_time"),
			hasInsurance.As("has_insurance"), hasClinical.As("has_clinical"),
		).
		Order(goqu.I("p.created_at").Desc(), goqu.I("p.id").Desc())
	if f.Page.Limit > 0 {
		ds = ds.Limit(uint(f.Page.Limit))
	}
	if f.Page.Offset > 0 {
		ds = ds.Offset(uint(f.Page.Offset))
	}
	return ds.ToSQL()
}

func countQuery(f Filter) (string, []any, error) {
	return filtered(f).Select(goqu.COUNT(goqu.Star())).ToSQL()
}

func (r *submissionRepoPG) List(ctx context.Context, f Filter) ([]*Summary, int, error) {
	sql, args, err := countQuery(f)
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	sql, args, err = listQuery(f)
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var (
			s               Summary
			first, last     string
			hasIns, hasClin bool
		)
		if err := rows.Scan(&s.ID, &first, &last, &s.Email, &s.Phone, &s.SubmittedAt,
			&s.CompletedAt, &s.EstimatedWaitTime, &hasIns, &hasClin); err != nil {
			return nil, 0, db.Classify(err)
		}
		s.PatientName = first + " " + last
		s.Status = DeriveStatus(hasIns, hasClin, s.CompletedAt != nil)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

// latest selects the newest row of table for the outer patient as a
// lateral subquery.
func latest(table, alias string, cols ...string) exp.Expression {
	sel := make([]any, len(cols))
	for i, c := range cols {
		sel[i] = goqu.I(c)
	}
	return goqu.Lateral(dialect.From(table).
		Select(sel...).
		Where(goqu.I("patient_id").Eq(goqu.I("p.id"))).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Desc()).
		Limit(1).
		As(alias))
}

func detailQuery(patientID int64) (string, []any, error) {
	return dialect.From(goqu.T("patients").As("p")).
		Prepared(true).
		Select(
			goqu.I("p.id"), goqu.I("p.first_name"), goqu.I("p.last_name"), goqu.L("p.date_of_birth::text"),
			goqu.I("p.address"), goqu.I("p.phone"), goqu.I("p.email"), goqu.I("p.created_at"), goqu.I("p.updated_at"),
			goqu.I("i.id"), goqu.I("i.provider"), goqu.I("i.policy_number"), goqu.I("i.group_number"),
			goqu.I("i.subscriber_name"), goqu.I("i.card_images"), goqu.I("i.created_at"),
			goqu.I("cf.id"), goqu.I("cf.medical_history"), goqu.I("cf.current_medications"),
			goqu.I("cf.allergies"), goqu.I("cf.symptoms"), goqu.I("cf.created_at"),
			goqu.I("c.id"), goqu.I("c.completed_at"), goqu.I("c.estimated_wait_time"), goqu.I("c.confirmation_sent"),
		).
		LeftJoin(latest("insurance", "i", "id", "provider", "policy_number", "group_number",
			"subscriber_name", "card_images", "created_at"), goqu.On(goqu.L("TRUE"))).
		LeftJoin(latest("clinical_forms", "cf", "id", "medical_history", "current_medications",
			"allergies", "symptoms", "created_at"), goqu.On(goqu.L("TRUE"))).
		LeftJoin(goqu.T("completions").As("c"), goqu.On(goqu.I("c.patient_id").Eq(goqu.I("p.id")))).
		Where(goqu.I("p.id").Eq(patientID)).
		ToSQL()
}

func (r *submissionRepoPG) Get(ctx context.Context, patientID int64) (*Detail, error) {
	sql, args, err := detailQuery(patientID)
	if err != nil {
		return nil, fmt.Errorf("build detail query: %w", err)
	}

	var (
		p    patient.Patient
		ins  insurance.Insurance
		cf   clinical.ClinicalForm
		comp completion.Completion

		insID, cfID, compID *int64
		provider, policy    *string
		subscriber          *string
		images              []byte
		insCreated          *time.Time
		history, allergies  *string
		cfCreated           *time.Time
		completedAt         *time.Time
		wait                *int
		sent                *bool
	)
	err = r.conn(ctx).QueryRow(ctx, sql, args...).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Address, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt,
		&insID, &provider, &policy, &ins.GroupNumber, &subscriber, &images, &insCreated,
		&cfID, &history, &cf.CurrentMedications, &allergies, &cf.Symptoms, &cfCreated,
		&compID, &completedAt, &wait, &sent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}

	var insPtr *insurance.Insurance
	if insID != nil {
		ins.ID, ins.PatientID = *insID, p.ID
		ins.Provider, ins.PolicyNumber, ins.SubscriberName = deref(provider), deref(policy), deref(subscriber)
		ins.CreatedAt = derefTime(insCreated)
		if len(images) > 0 {
			if err := json.Unmarshal(images, &ins.CardImages); err != nil {
				return nil, fmt.Errorf("decode card_images: %w", err)
			}
		}
		insPtr = &ins
	}

	var cfPtr *clinical.ClinicalForm
	if cfID != nil {
		cf.ID, cf.PatientID = *cfID, p.ID
		cf.MedicalHistory, cf.Allergies = deref(history), deref(allergies)
		cf.CreatedAt = derefTime(cfCreated)
		cfPtr = &cf
	}

	var compPtr *completion.Completion
	if compID != nil {
		comp.ID, comp.PatientID = *compID, p.ID
		comp.CompletedAt = derefTime(completedAt)
		if wait != nil {
			comp.EstimatedWaitTime = *wait
		}
		comp.ConfirmationSent = sent != nil && *sent
		compPtr = &comp
	}
	return newDetail(&p, insPtr, cfPtr, compPtr), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
