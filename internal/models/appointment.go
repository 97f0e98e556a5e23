package models

import (
	"time"
)

// AppointmentStatus represents the lifecycle state of an appointment
type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Mode is how the consultation takes place.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Appointment represents a booked consultation slot with a doctor
type Appointment struct {
	BaseModel
	DoctorID        string            `gorm:"size:36;not null;index;uniqueIndex:idx_doctor_day_queue,priority:1" json:"doctorId"`
	PatientID       string            `gorm:"size:36;not null;index" json:"patientId"`
	Mode            Mode              `gorm:"size:10;not null" json:"mode"`
	ScheduledTime   time.Time         `gorm:"not null" json:"scheduledTime"`
	QueueDate       string            `gorm:"size:10;not null;uniqueIndex:idx_doctor_day_queue,priority:2" json:"queueDate"`
	QueueNumber     int               `gorm:"not null;uniqueIndex:idx_doctor_day_queue,priority:3" json:"queueNumber"`
	Status          AppointmentStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	MeetLink        string            `gorm:"size:512" json:"meetLink,omitempty"`
	HospitalAddress string            `gorm:"size:512" json:"hospitalAddress,omitempty"`
	PatientName     string            `gorm:"size:200" json:"patientName,omitempty"`
	ChiefComplaint  string            `gorm:"type:text" json:"chiefComplaint,omitempty"`
	CancelledReason string            `gorm:"size:500" json:"cancelledReason,omitempty"`
	Notes           string            `gorm:"type:text" json:"notes,omitempty"`

	PatientJoinedAt       *time.Time `json:"patientJoinedAt,omitempty"`
	ConsultationStartedAt *time.Time `json:"consultationStartedAt,omitempty"`
	ConsultationEndedAt   *time.Time `json:"consultationEndedAt,omitempty"`

	// Version is bumped on every write and guards conditional updates.
	Version int64 `gorm:"not null;default:1" json:"version"`

	// Relations
	Patient *User `gorm:"foreignKey:PatientID" json:"-"`
	Doctor  *User `gorm:"foreignKey:DoctorID" json:"-"`
}

// NormalizeModeFields clears the location field that belongs to the other
// mode: online appointments never carry a hospital address and offline ones
// never carry a meeting link.
func (a *Appointment) NormalizeModeFields() {
	switch a.Mode {
	case ModeOnline:
		a.HospitalAddress = ""
	case ModeOffline:
		a.MeetLink = ""
	}
}
