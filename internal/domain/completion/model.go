package completion

import (
	"errors"
	"time"
)

// DefaultWaitMinutes applies when the client does not send an estimate.
const DefaultWaitMinutes = 20

// ErrAlreadyCompleted is returned by Repository.Create when the patient
// already has a completion.
var ErrAlreadyCompleted = errors.New("check-in already completed")

// Completion marks a finished check-in. A patient has at most one.
type Completion struct {
	ID                int64     `json:"id"`
	PatientID         int64     `json:"patient_id"`
	CompletedAt       time.Time `json:"completed_at"`
	EstimatedWaitTime int       `json:"estimated_wait_time"`
	ConfirmationSent  bool      `json:"confirmation_sent"`
}
