package models

import "time"

// DoctorSettings holds per-doctor overrides for queue behaviour.
type DoctorSettings struct {
	DoctorID string `gorm:"primaryKey;type:varchar(36)" json:"doctorId"`
	// ConsultationDurationMins overrides the clinic average when positive.
	ConsultationDurationMins int `gorm:"not null;default:0" json:"consultationDurationMins"`
	// WaitingRoomThreshold overrides the clinic threshold when non-nil.
	WaitingRoomThreshold  *int      `json:"waitingRoomThreshold,omitempty"`
	CustomMeetLink        string    `gorm:"size:512" json:"customMeetLink,omitempty"`
	HospitalAddress       string    `gorm:"size:512" json:"hospitalAddress,omitempty"`
	AcceptingAppointments bool      `gorm:"not null" json:"acceptingAppointments"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// UnavailabilityReason explains why a doctor stepped away.
type UnavailabilityReason string

const (
	ReasonBreak     UnavailabilityReason = "break"
	ReasonEmergency UnavailabilityReason = "emergency"
	ReasonPersonal  UnavailabilityReason = "personal"
	ReasonOther     UnavailabilityReason = "other"
)

// DoctorUnavailability is a window during which a doctor is not seeing patients
type DoctorUnavailability struct {
	BaseModel
	DoctorID      string               `gorm:"size:36;not null;index" json:"doctorId"`
	StartTime     time.Time            `gorm:"not null;index" json:"startTime"`
	EndTime       time.Time            `gorm:"not null;index" json:"endTime"`
	Reason        UnavailabilityReason `gorm:"size:20;not null" json:"reason"`
	CustomMessage string               `gorm:"size:500" json:"customMessage,omitempty"`
}

// Covers reports whether t falls inside the window.
func (u DoctorUnavailability) Covers(t time.Time) bool {
	return !t.Before(u.StartTime) && t.Before(u.EndTime)
}
