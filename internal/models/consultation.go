package models

import "time"

// ConsultationStatus is the state of a consultation session.
type ConsultationStatus string

const (
	ConsultationInProgress ConsultationStatus = "in_progress"
	ConsultationCompleted  ConsultationStatus = "completed"
)

// Consultation is the session record opened when an appointment starts.
type Consultation struct {
	BaseModel
	AppointmentID string             `gorm:"size:36;not null;uniqueIndex" json:"appointmentId"`
	DoctorID      string             `gorm:"size:36;not null;index" json:"doctorId"`
	PatientID     string             `gorm:"size:36;not null;index" json:"patientId"`
	IsOnline      bool               `json:"isOnline"`
	MeetLink      string             `gorm:"size:512" json:"meetLink,omitempty"`
	Status        ConsultationStatus `gorm:"size:20;not null" json:"status"`
	StartedAt     time.Time          `json:"startedAt"`
	EndedAt       *time.Time         `json:"endedAt,omitempty"`
}
