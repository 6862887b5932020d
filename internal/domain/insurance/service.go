package insurance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/blobstore"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

var tracer = otel.Tracer("github.com/ehr/checkin/internal/domain/insurance")

// Schema validates the insurance step.
var Schema = sanitize.Schema{
	{Name: "provider", Label: "Insurance provider", Kind: sanitize.KindString, Required: true, MinLen: 2, MaxLen: 100},
	{Name: "policyNumber", Label: "Policy number", Kind: sanitize.KindString, Required: true, MinLen: 1, MaxLen: 50},
	{Name: "groupNumber", Label: "Group number", Kind: sanitize.KindString, MaxLen: 50},
	{Name: "subscriberName", Label: "Subscriber name", Kind: sanitize.KindString, Required: true, MinLen: 2, MaxLen: 100},
	{Name: "patientId", Label: "Patient ID", Kind: sanitize.KindNumber, Required: true, Integer: true,
		Min: sanitize.Bound(1), Message: "Valid patient ID is required"},
}

// PatientLookup is the part of the patient store this step needs.
type PatientLookup interface {
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	blobs    blobstore.BlobStore
	logger   zerolog.Logger
}

func NewService(repo Repository, patients PatientLookup, blobs blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, blobs: blobs, logger: logger}
}

// CheckUploads enforces the card image limits before anything is stored.
func CheckUploads(uploads []Upload) error {
	if err := blobstore.ValidateCount(len(uploads)); err != nil {
		return apperr.TooManyFiles(blobstore.MaxFiles)
	}
	for _, u := range uploads {
		switch err := blobstore.Validate(u.FileName, u.ContentType, u.Size); {
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return apperr.PayloadTooLarge("File size must be less than 5MB")
		case errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrMissingFileName):
			return apperr.InvalidFileType(blobstore.ErrInvalidContentType.Error())
		case err != nil:
			return err
		}
	}
	return nil
}

// Create validates the payload and uploads, stores the card images and
// then the record. Stored images are removed again if the record cannot be
// written.
func (s *Service) Create(ctx context.Context, payload map[string]any, uploads []Upload) (*Insurance, error) {
	ctx, span := tracer.Start(ctx, "insurance.Create")
	defer span.End()

	if err := CheckUploads(uploads); err != nil {
		return nil, err
	}
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

	ids, err := s.storeUploads(ctx, uploads)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ins := &Insurance{
		PatientID:      patientID,
		Provider:       values.String("provider"),
		PolicyNumber:   values.String("policyNumber"),
		GroupNumber:    values.StringPtr("groupNumber"),
		SubscriberName: values.String("subscriberName"),
		CardImages:     ids,
	}
	if err := s.repo.Create(ctx, ins); err != nil {
		s.discard(ctx, ids)
		span.RecordError(err)
		return nil, fmt.Errorf("create insurance: %w", err)
	}
	return ins, nil
}

func (s *Service) storeUploads(ctx context.Context, uploads []Upload) ([]string, error) {
	ids := make([]string, 0, len(uploads))
	for _, u := range uploads {
		rc, err := u.Open()
		if err != nil {
			s.discard(ctx, ids)
			return nil, fmt.Errorf("open upload %s: %w", u.FileName, err)
		}
		meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{FileName: u.FileName, ContentType: u.ContentType}, rc)
		rc.Close()
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			s.discard(ctx, ids)
			return nil, apperr.PayloadTooLarge("File size must be less than 5MB")
		}
		if err != nil {
			s.discard(ctx, ids)
			return nil, fmt.Errorf("store upload %s: %w", u.FileName, err)
		}
		ids = append(ids, meta.ID)
	}
	return ids, nil
}

func (s *Service) discard(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.blobs.Delete(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("blob_id", id).Msg("failed to remove orphaned card image")
		}
	}
}

// GetByPatient returns the latest insurance record for a patient.
func (s *Service) GetByPatient(ctx context.Context, patientID int64) (*Insurance, error) {
	ins, err := s.repo.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get insurance for patient %d: %w", patientID, err)
	}
	if ins == nil {
		return nil, apperr.NotFound(apperr.CodeNotFound, "Insurance information not found for this patient")
	}
	return ins, nil
}
