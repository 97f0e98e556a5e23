// Package events carries change notifications from the service to stream
// subscribers. Events only say that something changed; subscribers re-read
// the current state, so a dropped or duplicated event is harmless.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAppointmentUpdated Kind = "appointment.updated"
	KindMessageCreated     Kind = "message.created"
	KindDoctorUpdated      Kind = "doctor.updated"
)

type Event struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	DoctorID      string    `json:"doctorId,omitempty"`
	QueueDate     string    `json:"queueDate,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// New stamps an event with an id and the current time.
func New(kind Kind, appointmentID, doctorID, queueDate string) Event {
	return Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		QueueDate:     queueDate,
		OccurredAt:    time.Now().UTC(),
	}
}

// QueueChannel carries every change to one doctor's day.
func QueueChannel(doctorID, date string) string {
	return fmt.Sprintf("queue:%s:%s", doctorID, date)
}

// AppointmentChannel carries status changes and new messages of one
// appointment.
func AppointmentChannel(appointmentID string) string {
	return "appointment:" + appointmentID
}

// DoctorChannel carries availability changes of one doctor.
func DoctorChannel(doctorID string) string {
	return "doctor:" + doctorID
}

// Bus is a fan-out publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, channel string, event Event) error
	// Subscribe returns a channel of events that is closed when ctx is done
	// or the bus is closed.
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
	Close() error
}

// subscriberBuffer bounds each subscriber; slow readers lose events.
const subscriberBuffer = 32
