package submission

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/checkin/internal/domain/clinical"
	"github.com/ehr/checkin/internal/domain/completion"
	"github.com/ehr/checkin/internal/domain/insurance"
	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/sanitize"
	"github.com/ehr/checkin/pkg/pagination"
)

// MemoryRepo joins the record repositories in process. It works with any
// Repository implementation but is meant for the in-memory store.
type MemoryRepo struct {
	patients    patient.Repository
	insurance   insurance.Repository
	clinical    clinical.Repository
	completions completion.Repository
}

func NewMemoryRepo(p patient.Repository, i insurance.Repository, c clinical.Repository, comp completion.Repository) *MemoryRepo {
	return &MemoryRepo{patients: p, insurance: i, clinical: c, completions: comp}
}

type joined struct {
	insurance  map[int64]*insurance.Insurance
	clinical   map[int64]*clinical.ClinicalForm
	completion map[int64]*completion.Completion
}

// load indexes the newest dependent record per patient. Lists are ordered
// newest first, so the first record seen wins.
func (r *MemoryRepo) load(ctx context.Context) (*joined, error) {
	j := &joined{
		insurance:  map[int64]*insurance.Insurance{},
		clinical:   map[int64]*clinical.ClinicalForm{},
		completion: map[int64]*completion.Completion{},
	}

	ins, err := r.insurance.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list insurance: %w", err)
	}
	for _, rec := range ins {
		if _, ok := j.insurance[rec.PatientID]; !ok {
			j.insurance[rec.PatientID] = rec
		}
	}

	forms, err := r.clinical.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clinical forms: %w", err)
	}
	for _, rec := range forms {
		if _, ok := j.clinical[rec.PatientID]; !ok {
			j.clinical[rec.PatientID] = rec
		}
	}

	comps, err := r.completions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	for _, rec := range comps {
		j.completion[rec.PatientID] = rec
	}
	return j, nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]*Summary, int, error) {
	patients, err := r.patients.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	j, err := r.load(ctx)
	if err != nil {
		return nil, 0, err
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	var out []*Summary
	for _, p := range patients {
		if term != "" && !nameMatches(p, term) {
			continue
		}
		day := p.CreatedAt.UTC().Format(sanitize.DateLayout)
		if f.DateFrom != nil && day < f.DateFrom.Format(sanitize.DateLayout) {
			continue
		}
		if f.DateTo != nil && day > f.DateTo.Format(sanitize.DateLayout) {
			continue
		}

		comp := j.completion[p.ID]
		status := DeriveStatus(j.insurance[p.ID] != nil, j.clinical[p.ID] != nil, comp != nil)
		if !status.Matches(f.Status) {
			continue
		}

		s := &Summary{
			ID:          p.ID,
			PatientName: p.FullName(),
			Email:       p.Email,
			Phone:       p.Phone,
			SubmittedAt: p.CreatedAt,
			Status:      status,
		}
		if comp != nil {
			completedAt, wait := comp.CompletedAt, comp.EstimatedWaitTime
			s.CompletedAt = &completedAt
			s.EstimatedWaitTime = &wait
		}
		out = append(out, s)
	}
	return pagination.Window(out, f.Page), len(out), nil
}

func nameMatches(p *patient.Patient, term string) bool {
	first := strings.ToLower(p.FirstName)
	last := strings.ToLower(p.LastName)
	return strings.Contains(first, term) ||
		strings.Contains(last, term) ||
		strings.Contains(first+" "+last, term)
}

func (r *MemoryRepo) Get(ctx context.Context, patientID int64) (*Detail, error) {
	p, err := r.patients.GetByID(ctx, patientID)
	if err != nil || p == nil {
		return nil, err
	}
	ins, err := r.insurance.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get insurance: %w", err)
	}
	cf, err := r.clinical.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get clinical form: %w", err)
	}
	comp, err := r.completions.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return newDetail(p, ins, cf, comp), nil
}
