// Package submission is the admin view over check-in records. A submission
// is one patient joined with the latest insurance, the latest clinical form
// and the completion, if any. Its status is derived on every read.
package submission

import (
	"time"

	"github.com/ehr/checkin/internal/domain/clinical"
	"github.com/ehr/checkin/internal/domain/completion"
	"github.com/ehr/checkin/internal/domain/insurance"
	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/pkg/pagination"
)

type Status string

const (
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusIncomplete Status = "incomplete"
)

// DeriveStatus is the single source of submission status.
func DeriveStatus(hasInsurance, hasClinical, hasCompletion bool) Status {
	switch {
	case hasCompletion:
		return StatusCompleted
	case hasInsurance || hasClinical:
		return StatusPartial
	default:
		return StatusIncomplete
	}
}

// Matches reports whether a row with status s passes a status filter.
// "incomplete" is the complement of "completed", so it includes partial rows.
func (s Status) Matches(filter Status) bool {
	switch filter {
	case "":
		return true
	case StatusIncomplete:
		return s != StatusCompleted
	default:
		return s == filter
	}
}

// ParseStatus accepts the filter values the admin list understands.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case "", StatusCompleted, StatusIncomplete, StatusPartial:
		return s, true
	}
	return "", false
}

// Filter narrows the admin list. Zero fields impose no constraint and all
// set fields must match.
type Filter struct {
	Search   string
	DateFrom *time.Time // inclusive, UTC calendar date
	DateTo   *time.Time // inclusive, UTC calendar date
	Status   Status
	Page     pagination.Params
}

// Summary is one row of the admin list.
type Summary struct {
	ID                int64      `json:"id"`
	PatientName       string     `json:"patientName"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	SubmittedAt       time.Time  `json:"submittedAt"`
	Status            Status     `json:"status"`
	CompletedAt       *time.Time `json:"completedAt"`
	EstimatedWaitTime *int       `json:"estimatedWaitTime"`
}

type PatientDetail struct {
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DateOfBirth string    `json:"dateOfBirth"`
	Address     string    `json:"address"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
}

type InsuranceDetail struct {
	Provider       string    `json:"provider"`
	PolicyNumber   string    `json:"policyNumber"`
	GroupNumber    *string   `json:"groupNumber"`
	SubscriberName string    `json:"subscriberName"`
	CardImagePath  *string   `json:"cardImagePath"`
	CardImages     []string  `json:"cardImages"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ClinicalDetail struct {
	MedicalHistory     string    `json:"medicalHistory"`
	CurrentMedications *string   `json:"currentMedications"`
	Allergies          string    `json:"allergies"`
	Symptoms           *string   `json:"symptoms"`
	CreatedAt          time.Time `json:"createdAt"`
}

type CompletionDetail struct {
	CompletedAt       time.Time `json:"completedAt"`
	EstimatedWaitTime int       `json:"estimatedWaitTime"`
	ConfirmationSent  bool      `json:"confirmationSent"`
}

// Detail is the full joined record for one patient.
type Detail struct {
	ID            int64             `json:"id"`
	Patient       PatientDetail     `json:"patient"`
	Insurance     *InsuranceDetail  `json:"insurance"`
	ClinicalForms *ClinicalDetail   `json:"clinicalForms"`
	Completion    *CompletionDetail `json:"completion"`
	Status        Status            `json:"status"`
}

// newDetail assembles a Detail from the stored records. Any of ins, cf and
// comp may be nil.
func newDetail(p *patient.Patient, ins *insurance.Insurance, cf *clinical.ClinicalForm, comp *completion.Completion) *Detail {
	d := &Detail{
		ID: p.ID,
		Patient: PatientDetail{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			DateOfBirth: p.DateOfBirth,
			Address:     p.Address,
			Phone:       p.Phone,
			Email:       p.Email,
			CreatedAt:   p.CreatedAt,
		},
		Status: DeriveStatus(ins != nil, cf != nil, comp != nil),
	}
	if ins != nil {
		d.Insurance = &InsuranceDetail{
			Provider:       ins.Provider,
			PolicyNumber:   ins.PolicyNumber,
			GroupNumber:    ins.GroupNumber,
			SubscriberName: ins.SubscriberName,
			CardImages:     ins.CardImages,
			CreatedAt:      ins.CreatedAt,
		}
		if len(ins.CardImages) > 0 {
			first := ins.CardImages[0]
			d.Insurance.CardImagePath = &first
		}
	}
	if cf != nil {
		d.ClinicalForms = &ClinicalDetail{
			MedicalHistory:     cf.MedicalHistory,
			CurrentMedications: cf.CurrentMedications,
			Allergies:          cf.Allergies,
			Symptoms:           cf.Symptoms,
			CreatedAt:          cf.CreatedAt,
		}
	}
	if comp != nil {
		d.Completion = &CompletionDetail{
			CompletedAt:       comp.CompletedAt,
			EstimatedWaitTime: comp.EstimatedWaitTime,
			ConfirmationSent:  comp.ConfirmationSent,
		}
	}
	return d
}
