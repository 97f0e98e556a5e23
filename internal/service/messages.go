package service

import (
	"context"
	"fmt"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/conversation"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
)

func (s *Service) Thread(ctx context.Context, actor lifecycle.Actor, appointmentID string) (messaging.ThreadView, error) {
	appt, err := s.GetAppointment(ctx, actor, appointmentID)
	if err != nil {
		return messaging.ThreadView{}, err
	}
	msgs, err := s.store.ListMessages(ctx, appt.ID)
	if err != nil {
		return messaging.ThreadView{}, err
	}
	messaging.Sort(msgs)
	return messaging.ThreadView{
		AppointmentID:     appt.ID,
		AppointmentStatus: appt.Status,
		ThreadOpen:        s.opts.Policy.Open(appt.Status),
		Messages:          msgs,
	}, nil
}

// SendMessage appends a participant message. Retrying with the same client
// key returns the stored message without adding a duplicate.
func (s *Service) SendMessage(ctx context.Context, actor lifecycle.Actor, appointmentID, content, clientKey string) (models.Message, bool, error) {
	sender, ok := messaging.SenderFor(actor.Role)
	if !ok {
		return models.Message{}, false, fmt.Errorf("%w: %s cannot post to a thread", apperrors.ErrForbidden, actor.Role)
	}
	appt, err := s.GetAppointment(ctx, actor, appointmentID)
	if err != nil {
		return models.Message{}, false, err
	}
	msg, err := s.opts.Policy.Validate(appt, messaging.Draft{
		SenderType: sender,
		SenderID:   actor.ID,
		Content:    content,
		ClientKey:  clientKey,
	}, s.now())
	if err != nil {
		return models.Message{}, false, err
	}

	stored, created, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return models.Message{}, false, err
	}
	if created {
		s.publish(ctx, events.AppointmentChannel(appt.ID), events.New(events.KindMessageCreated, appt.ID, appt.DoctorID, appt.QueueDate))
	}
	return stored, created, nil
}

// Conversation resolves the caller's conversation with counterpartID.
func (s *Service) Conversation(ctx context.Context, actor lifecycle.Actor, counterpartID string) (conversation.Conversation, error) {
	var doctorID, patientID string
	var appts []models.Appointment
	var err error
	switch actor.Role {
	case models.RoleDoctor:
		doctorID, patientID = actor.ID, counterpartID
		appts, err = s.store.ListByPatient(ctx, patientID)
	case models.RolePatient:
		doctorID, patientID = counterpartID, actor.ID
		appts, err = s.store.ListByPatient(ctx, patientID)
	default:
		return conversation.Conversation{}, fmt.Errorf("%w: only doctors and patients have conversations", apperrors.ErrForbidden)
	}
	if err != nil {
		return conversation.Conversation{}, err
	}

	names, err := s.store.UserNames(ctx, []string{counterpartID})
	if err != nil {
		return conversation.Conversation{}, err
	}
	c, ok := conversation.Build(doctorID, patientID, actor.Role, appts, names[counterpartID])
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("conversation with %s: %w", counterpartID, apperrors.ErrNotFound)
	}
	return c, nil
}

// Inbox lists the caller's conversations.
func (s *Service) Inbox(ctx context.Context, actor lifecycle.Actor) ([]conversation.Conversation, error) {
	var appts []models.Appointment
	var err error
	switch actor.Role {
	case models.RoleDoctor:
		appts, err = s.store.ListByDoctor(ctx, actor.ID)
	case models.RolePatient:
		appts, err = s.store.ListByPatient(ctx, actor.ID)
	default:
		return nil, fmt.Errorf("%w: only doctors and patients have conversations", apperrors.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, a := range appts {
		id := a.PatientID
		if actor.Role == models.RolePatient {
			id = a.DoctorID
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	names, err := s.store.UserNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	return conversation.Inbox(actor.ID, actor.Role, appts, names), nil
}
