package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"consultation-queue-server/internal/conversation"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/queue"
)

// BookRequest mirrors POST /appointments.
type BookRequest struct {
	DoctorID       string      `json:"doctorId"`
	PatientID      string      `json:"patientId,omitempty"`
	Mode           models.Mode `json:"mode"`
	ScheduledTime  time.Time   `json:"scheduledTime"`
	PatientName    string      `json:"patientName,omitempty"`
	ChiefComplaint string      `json:"chiefComplaint,omitempty"`
}

func (c *Client) Book(ctx context.Context, req BookRequest) (models.Appointment, error) {
	var appt models.Appointment
	_, err := c.do(ctx, http.MethodPost, "/appointments", req, &appt)
	return appt, err
}

func (c *Client) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	var appt models.Appointment
	_, err := c.do(ctx, http.MethodGet, "/appointments/"+escape(id), nil, &appt)
	return appt, err
}

// StatusRequest mirrors PATCH /appointments/:id/status. Set Version to get
// a conflict instead of overwriting someone else's change.
type StatusRequest struct {
	Status   models.AppointmentStatus `json:"status"`
	Reason   string                   `json:"reason,omitempty"`
	MeetLink string                   `json:"meetLink,omitempty"`
	Version  *int64                   `json:"version,omitempty"`
}

func (c *Client) UpdateStatus(ctx context.Context, id string, req StatusRequest) (models.Appointment, error) {
	var appt models.Appointment
	_, err := c.do(ctx, http.MethodPatch, "/appointments/"+escape(id)+"/status", req, &appt)
	return appt, err
}

func (c *Client) Reschedule(ctx context.Context, id string, at time.Time, version *int64) (models.Appointment, error) {
	body := struct {
		ScheduledTime time.Time `json:"scheduledTime"`
		Version       *int64    `json:"version,omitempty"`
	}{at, version}
	var appt models.Appointment
	_, err := c.do(ctx, http.MethodPatch, "/appointments/"+escape(id)+"/reschedule", body, &appt)
	return appt, err
}

func (c *Client) Join(ctx context.Context, id string) (models.Appointment, error) {
	var appt models.Appointment
	_, err := c.do(ctx, http.MethodPost, "/appointments/"+escape(id)+"/join", nil, &appt)
	return appt, err
}

func (c *Client) QueuePosition(ctx context.Context, id string) (queue.Position, error) {
	var pos queue.Position
	_, err := c.do(ctx, http.MethodGet, "/appointments/"+escape(id)+"/queue-position", nil, &pos)
	return pos, err
}

// DoctorBoard fetches a doctor's day; an empty date means today.
func (c *Client) DoctorBoard(ctx context.Context, doctorID, date string) (queue.Board, error) {
	path := "/appointments/doctor/" + escape(doctorID)
	if date != "" {
		path += "?" + url.Values{"date": {date}}.Encode()
	}
	var board queue.Board
	_, err := c.do(ctx, http.MethodGet, path, nil, &board)
	return board, err
}

func (c *Client) PatientAppointments(ctx context.Context, patientID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	_, err := c.do(ctx, http.MethodGet, "/appointments/patient/"+escape(patientID), nil, &appts)
	return appts, err
}

func (c *Client) Thread(ctx context.Context, appointmentID string) (messaging.ThreadView, error) {
	var view messaging.ThreadView
	_, err := c.do(ctx, http.MethodGet, "/appointments/"+escape(appointmentID)+"/messages", nil, &view)
	return view, err
}

// SendMessage posts to a thread. Retrying with the same clientKey is safe.
func (c *Client) SendMessage(ctx context.Context, appointmentID, content, clientKey string) (models.Message, error) {
	body := struct {
		Content   string `json:"content"`
		ClientKey string `json:"clientKey,omitempty"`
	}{content, clientKey}
	var header []string
	if clientKey != "" {
		header = []string{"Idempotency-Key", clientKey}
	}
	var msg models.Message
	_, err := c.do(ctx, http.MethodPost, "/appointments/"+escape(appointmentID)+"/messages", body, &msg, header...)
	return msg, err
}

func (c *Client) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	var inbox []conversation.Conversation
	_, err := c.do(ctx, http.MethodGet, "/conversations", nil, &inbox)
	return inbox, err
}

func (c *Client) Conversation(ctx context.Context, counterpartID string) (conversation.Conversation, error) {
	var conv conversation.Conversation
	_, err := c.do(ctx, http.MethodGet, "/conversations/"+escape(counterpartID), nil, &conv)
	return conv, err
}
