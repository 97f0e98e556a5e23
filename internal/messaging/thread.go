// Package messaging holds the rules of the per-appointment message thread.
package messaging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
)

// MaxContentLength bounds a single message.
const MaxContentLength = 4000

// Policy decides whether a thread stays writable after the appointment ends.
type Policy struct {
	AllowAfterCompletion bool
}

// Open reports whether participants may still post to a thread on an
// appointment in status s.
func (p Policy) Open(s models.AppointmentStatus) bool {
	return p.AllowAfterCompletion || !lifecycle.IsTerminal(s)
}

// Draft is a participant message before it is stored.
type Draft struct {
	SenderType models.SenderType
	SenderID   string
	Content    string
	ClientKey  string
}

// Validate checks a participant message against the appointment and returns
// the message to store. System messages are not accepted here; use
// SystemNotice.
func (p Policy) Validate(appt models.Appointment, d Draft, now time.Time) (models.Message, error) {
	if d.SenderType != models.SenderDoctor && d.SenderType != models.SenderPatient {
		return models.Message{}, fmt.Errorf("%w: sender type %q", apperrors.ErrValidation, d.SenderType)
	}
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return models.Message{}, apperrors.ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return models.Message{}, fmt.Errorf("%w: content exceeds %d characters", apperrors.ErrValidation, MaxContentLength)
	}
	if !p.Open(appt.Status) {
		return models.Message{}, fmt.Errorf("%w: appointment is %s", apperrors.ErrThreadClosed, appt.Status)
	}
	return models.Message{
		AppointmentID: appt.ID,
		SenderType:    d.SenderType,
		SenderID:      d.SenderID,
		Content:       content,
		ClientKey:     strings.TrimSpace(d.ClientKey),
		CreatedAt:     now.UTC(),
	}, nil
}

// SystemNotice builds a message posted by the system itself, for lifecycle
// events and reschedules. It bypasses the thread policy.
func SystemNotice(appointmentID, text string, now time.Time) models.Message {
	return models.Message{
		AppointmentID: appointmentID,
		SenderType:    models.SenderSystem,
		Content:       text,
		CreatedAt:     now.UTC(),
	}
}

// SenderFor maps a caller role to the sender type it writes as.
func SenderFor(role models.Role) (models.SenderType, bool) {
	switch role {
	case models.RoleDoctor:
		return models.SenderDoctor, true
	case models.RolePatient:
		return models.SenderPatient, true
	}
	return "", false
}

// ThreadView is an appointment's thread as served to participants.
type ThreadView struct {
	AppointmentID     string                   `json:"appointmentId"`
	AppointmentStatus models.AppointmentStatus `json:"appointmentStatus"`
	ThreadOpen        bool                     `json:"threadOpen"`
	Messages          []models.Message         `json:"messages"`
}

// Sort orders messages by creation time, then insertion sequence.
func Sort(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}
