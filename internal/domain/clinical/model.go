package clinical

import "time"

// ClinicalForm is the patient's self-reported clinical history.
type ClinicalForm struct {
	ID                 int64     `json:"id"`
	PatientID          int64     `json:"patient_id"`
	MedicalHistory     string    `json:"medical_history"`
	CurrentMedications *string   `json:"current_medications"`
	Allergies          string    `json:"allergies"`
	Symptoms           *string   `json:"symptoms"`
	CreatedAt          time.Time `json:"created_at"`
}
