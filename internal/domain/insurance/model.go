package insurance

import (
	"io"
	"time"
)

type Insurance struct {
	ID             int64     `json:"id"`
	PatientID      int64     `json:"patient_id"`
	Provider       string    `json:"provider"`
	PolicyNumber   string    `json:"policy_number"`
	GroupNumber    *string   `json:"group_number"`
	SubscriberName string    `json:"subscriber_name"`
	CardImages     []string  `json:"card_images"` // blob ids
	CreatedAt      time.Time `json:"created_at"`
}

// Upload is one card image received with the insurance step.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}
