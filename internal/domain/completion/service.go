package completion

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/notification"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

var tracer = otel.Tracer("github.com/ehr/checkin/internal/domain/completion")

// completedAtLayout is how the completion time appears in the confirmation.
const completedAtLayout = "Jan 2, 2006 3:04 PM MST"

// Schema validates the completion step.
var Schema = sanitize.Schema{
	{Name: "patientId", Label: "Patient ID", Kind: sanitize.KindNumber, Required: true, Integer: true,
		Min: sanitize.Bound(1), Message: "Valid patient ID is required"},
	{Name: "estimatedWaitTime", Label: "Estimated wait time", Kind: sanitize.KindNumber, Integer: true,
		Min: sanitize.Bound(0), Max: sanitize.Bound(180),
		Message: "Estimated wait time must be between 0 and 180 minutes"},
}

type PatientLookup interface {
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

// Result is what a successful completion returns to the client.
type Result struct {
	Completion *Completion
	Patient    *patient.Patient
}

type Service struct {
	repo     Repository
	patients PatientLookup
	notifier *notification.Manager
	logger   zerolog.Logger
}

// NewService wires the completion step. notifier may be nil, in which case
// no confirmation is sent.
func NewService(repo Repository, patients PatientLookup, notifier *notification.Manager, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, notifier: notifier, logger: logger}
}

func alreadyCompleted() *apperr.Error {
	return apperr.Conflict("Check-in already completed for this patient")
}

// Complete records the patient's completion exactly once and sends the
// confirmation. A failed send is logged and does not fail the step.
func (s *Service) Complete(ctx context.Context, payload map[string]any) (*Result, error) {
	ctx, span := tracer.Start(ctx, "completion.Complete")
	defer span.End()

	values, errs := sanitize.Validate(payload, Schema)
	if len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	patientID, _ := values.Int("patientId")
	wait := int64(DefaultWaitMinutes)
	if n, ok := values.Int("estimatedWaitTime"); ok {
		wait = n
	}
	span.SetAttributes(attribute.Int64("patient.id", patientID), attribute.Int64("wait_minutes", wait))

	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("lookup patient %d: %w", patientID, err)
	}
	if p == nil {
		return nil, apperr.PatientNotFound()
	}

	existing, err := s.repo.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("check completion for patient %d: %w", patientID, err)
	}
	if existing != nil {
		return nil, alreadyCompleted()
	}

	c := &Completion{PatientID: patientID, EstimatedWaitTime: int(wait)}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return nil, alreadyCompleted()
		}
		span.RecordError(err)
		return nil, fmt.Errorf("create completion: %w", err)
	}

	if s.sendConfirmation(ctx, p, c) {
		c.ConfirmationSent = true
	}
	return &Result{Completion: c, Patient: p}, nil
}

func (s *Service) sendConfirmation(ctx context.Context, p *patient.Patient, c *Completion) bool {
	if s.notifier == nil {
		return false
	}
	data := map[string]string{
		"first_name":   p.FirstName,
		"patient_name": p.FullName(),
		"completed_at": c.CompletedAt.Format(completedAtLayout),
		"wait_minutes": strconv.Itoa(c.EstimatedWaitTime),
	}
	if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateCheckInConfirmation, data, p.Email); err != nil {
		s.logger.Warn().Err(err).Int64("patient_id", p.ID).Msg("confirmation email failed")
		return false
	}
	if err := s.repo.MarkConfirmationSent(ctx, p.ID); err != nil {
		s.logger.Warn().Err(err).Int64("patient_id", p.ID).Msg("failed to record confirmation")
		return false
	}
	return true
}

func (s *Service) GetByPatient(ctx context.Context, patientID int64) (*Completion, error) {
	c, err := s.repo.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get completion for patient %d: %w", patientID, err)
	}
	if c == nil {
		return nil, apperr.NotFound(apperr.CodeNotFound, "Check-in completion not found for this patient")
	}
	return c, nil
}
