// Package store declares the persistence contract of the consultation queue.
// Implementations return apperrors.ErrNotFound for missing rows and
// apperrors.ErrConflict when a conditional write loses a race.
package store

import (
	"context"
	"time"

	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
)

type BookInput struct {
	DoctorID        string
	PatientID       string
	Mode            models.Mode
	ScheduledTime   time.Time
	QueueDate       string
	PatientName     string
	ChiefComplaint  string
	MeetLink        string
	HospitalAddress string
}

type TransitionInput struct {
	AppointmentID   string
	ExpectedVersion int64
	Change          lifecycle.Change
	Actor           lifecycle.Actor
	// Notice, when non-nil, is appended to the thread in the same transaction.
	Notice *models.Message
	At     time.Time
}

type RescheduleInput struct {
	AppointmentID   string
	ExpectedVersion int64
	ScheduledTime   time.Time
	QueueDate       string
	Actor           lifecycle.Actor
	Notice          *models.Message
	At              time.Time
}

type AppointmentStore interface {
	// Book inserts a pending appointment with the next free queue number of
	// the doctor's day. Numbers are never reused.
	Book(ctx context.Context, input BookInput) (models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (models.Appointment, error)
	ListByDoctorDate(ctx context.Context, doctorID, date string) ([]models.Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]models.Appointment, error)
	// ApplyTransition writes the change only if the appointment is still in
	// Change.From at ExpectedVersion.
	ApplyTransition(ctx context.Context, input TransitionInput) (models.Appointment, error)
	Reschedule(ctx context.Context, input RescheduleInput) (models.Appointment, error)
	MarkPatientJoined(ctx context.Context, appointmentID string, at time.Time) (models.Appointment, error)
	GetConsultation(ctx context.Context, appointmentID string) (models.Consultation, error)
}

type MessageStore interface {
	// AppendMessage stores msg with the next sequence number of its thread.
	// A message whose ClientKey already exists in the thread is not stored
	// again; the existing one is returned with created=false.
	AppendMessage(ctx context.Context, msg models.Message) (stored models.Message, created bool, err error)
	ListMessages(ctx context.Context, appointmentID string) ([]models.Message, error)
}

type DoctorStore interface {
	// GetSettings returns nil when the doctor has not saved any settings.
	GetSettings(ctx context.Context, doctorID string) (*models.DoctorSettings, error)
	SaveSettings(ctx context.Context, settings models.DoctorSettings) (models.DoctorSettings, error)
	AddUnavailability(ctx context.Context, window models.DoctorUnavailability) (models.DoctorUnavailability, error)
	// ListUnavailability returns windows overlapping [from, to).
	ListUnavailability(ctx context.Context, doctorID string, from, to time.Time) ([]models.DoctorUnavailability, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	// UserNames maps each known id to the account's full name.
	UserNames(ctx context.Context, ids []string) (map[string]string, error)
}

type Store interface {
	AppointmentStore
	MessageStore
	DoctorStore
	UserStore
}
