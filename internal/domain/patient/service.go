package patient

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

var tracer = otel.Tracer("github.com/ehr/checkin/internal/domain/patient")

// Schema validates the demographics step.
var Schema = sanitize.Schema{
	{Name: "first_name", Label: "First name", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 50},
	{Name: "last_name", Label: "Last name", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 50},
	{Name: "date_of_birth", Label: "Date of birth", Kind: sanitize.KindDate, Required: true,
		Message: "Date of birth must be a valid date in YYYY-MM-DD format"},
	{Name: "address", Label: "Address", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 200},
	{Name: "phone", Label: "Phone number", Kind: sanitize.KindPhone, Required: true, MinLen: 1, MaxLen: 30},
	{Name: "email", Label: "Email", Kind: sanitize.KindEmail, Required: true, MaxLen: 254},
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register validates a demographics payload and creates the patient.
func (s *Service) Register(ctx context.Context, payload map[string]any) (*Patient, error) {
	ctx, span := tracer.Start(ctx, "patient.Register")
	defer span.End()

	values, errs := sanitize.Validate(payload, Schema)
	if len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}

	p := &Patient{
		FirstName:   values.String("first_name"),
		LastName:    values.String("last_name"),
		DateOfBirth: values.String("date_of_birth"),
		Address:     values.String("address"),
		Phone:       values.String("phone"),
		Email:       values.String("email"),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create patient: %w", err)
	}
	span.SetAttributes(attribute.Int64("patient.id", p.ID))
	return p, nil
}

// Get returns the patient or a PATIENT_NOT_FOUND error.
func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	if p == nil {
		return nil, apperr.PatientNotFound()
	}
	return p, nil
}
