package clinical

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

var tracer = otel.Tracer("github.com/ehr/checkin/internal/domain/clinical")

// Schema validates the clinical forms step.
var Schema = sanitize.Schema{
	{Name: "medicalHistory", Label: "Medical history", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 2000},
	{Name: "currentMedications", Label: "Current medications", Kind: sanitize.KindString, MaxLen: 2000},
	{Name: "allergies", Label: "Allergies", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 1000},
	{Name: "symptoms", Label: "Symptoms", Kind: sanitize.KindString, MaxLen: 2000},
	{Name: "patientId", Label: "Patient ID", Kind: sanitize.KindNumber, Required: true, Integer: true,
		Min: sanitize.Bound(1), Message: "Valid patient ID is required"},
}

type PatientLookup interface {
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
}

func NewService(repo Repository, patients PatientLookup) *Service {
	return &Service{repo: repo, patients: patients}
}

func (s *Service) Create(ctx context.Context, payload map[string]any) (*ClinicalForm, error) {
	ctx, span := tracer.Start(ctx, "clinical.Create")
	defer span.End()

	values, errs := sanitize.Validate(payload, Schema)
	if len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	patientID, _ := values.Int("patientId")
	span.SetAttributes(attribute.Int64("patient.id", patientID))

	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("lookup patient %d: %w", patientID, err)
	}
	if p == nil {
		return nil, apperr.PatientNotFound()
	}

	f := &ClinicalForm{
		PatientID:          patientID,
		MedicalHistory:     values.String("medicalHistory"),
		CurrentMedications: values.StringPtr("currentMedications"),
		Allergies:          values.String("allergies"),
		Symptoms:           values.StringPtr("symptoms"),
	}
	if err := s.repo.Create(ctx, f); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create clinical form: %w", err)
	}
	return f, nil
}

func (s *Service) GetByPatient(ctx context.Context, patientID int64) (*ClinicalForm, error) {
	f, err := s.repo.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get clinical form for patient %d: %w", patientID, err)
	}
	if f == nil {
		return nil, apperr.NotFound(apperr.CodeNotFound, "Clinical forms not found for this patient")
	}
	return f, nil
}
