package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"consultation-queue-server/internal/conversation"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/middleware"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/service"
	"consultation-queue-server/internal/utils"
)

// AppointmentService is the part of the service the appointment routes use.
type AppointmentService interface {
	Book(ctx context.Context, actor lifecycle.Actor, req service.BookRequest) (models.Appointment, error)
	GetAppointment(ctx context.Context, actor lifecycle.Actor, id string) (models.Appointment, error)
	Transition(ctx context.Context, actor lifecycle.Actor, id string, req service.TransitionRequest) (models.Appointment, error)
	Reschedule(ctx context.Context, actor lifecycle.Actor, id string, req service.RescheduleRequest) (models.Appointment, error)
	Join(ctx context.Context, actor lifecycle.Actor, id string) (models.Appointment, error)
	QueuePosition(ctx context.Context, actor lifecycle.Actor, id string) (queue.Position, error)
	DoctorBoard(ctx context.Context, actor lifecycle.Actor, doctorID, date string) (queue.Board, error)
	PatientAppointments(ctx context.Context, actor lifecycle.Actor, patientID string) ([]models.Appointment, error)
}

// MessageService backs the thread and conversation routes.
type MessageService interface {
	Thread(ctx context.Context, actor lifecycle.Actor, appointmentID string) (messaging.ThreadView, error)
	SendMessage(ctx context.Context, actor lifecycle.Actor, appointmentID, content, clientKey string) (models.Message, bool, error)
	Conversation(ctx context.Context, actor lifecycle.Actor, counterpartID string) (conversation.Conversation, error)
	Inbox(ctx context.Context, actor lifecycle.Actor) ([]conversation.Conversation, error)
}

// DoctorService backs the doctor settings routes.
type DoctorService interface {
	Settings(ctx context.Context, actor lifecycle.Actor, doctorID string) (models.DoctorSettings, error)
	SaveSettings(ctx context.Context, actor lifecycle.Actor, settings models.DoctorSettings) (models.DoctorSettings, error)
	AddUnavailability(ctx context.Context, actor lifecycle.Actor, doctorID string, req service.UnavailabilityRequest) (models.DoctorUnavailability, error)
}

// StreamService backs the live queue stream.
type StreamService interface {
	QueuePosition(ctx context.Context, actor lifecycle.Actor, id string) (queue.Position, error)
	Watch(ctx context.Context, actor lifecycle.Actor, appointmentID string) (<-chan events.Event, error)
}

func requireActor(c *gin.Context) (lifecycle.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return lifecycle.Actor{}, false
	}
	return actor, true
}
