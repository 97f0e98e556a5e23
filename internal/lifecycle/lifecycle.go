// Package lifecycle is the appointment state machine. It is pure: it decides
// whether a status change is allowed and what it changes, and leaves the
// conditional write to the store.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/models"
)

// Actor is the authenticated caller driving a transition.
type Actor struct {
	ID   string
	Role models.Role
}

type edge struct {
	from, to models.AppointmentStatus
}

// Who may take each edge. Admins act with doctor rights on doctor edges.
var transitionMap = map[edge][]models.Role{
	{models.StatusPending, models.StatusConfirmed}:    {models.RoleDoctor, models.RoleAdmin},
	{models.StatusConfirmed, models.StatusInProgress}: {models.RoleDoctor, models.RoleAdmin},
	{models.StatusInProgress, models.StatusCompleted}: {models.RoleDoctor, models.RoleAdmin},
	{models.StatusPending, models.StatusCancelled}:    {models.RolePatient},
	{models.StatusConfirmed, models.StatusCancelled}:  {models.RolePatient},
	{models.StatusPending, models.StatusNoShow}:       {models.RoleDoctor, models.RoleAdmin},
	{models.StatusConfirmed, models.StatusNoShow}:     {models.RoleDoctor, models.RoleAdmin},
}

// ValidTransition reports whether the graph has an edge from -> to,
// regardless of who asks.
func ValidTransition(from, to models.AppointmentStatus) bool {
	_, ok := transitionMap[edge{from, to}]
	return ok
}

// Allowed lists the statuses reachable from from in one step.
func Allowed(from models.AppointmentStatus) []models.AppointmentStatus {
	order := []models.AppointmentStatus{
		models.StatusConfirmed, models.StatusInProgress, models.StatusCompleted,
		models.StatusCancelled, models.StatusNoShow,
	}
	var out []models.AppointmentStatus
	for _, to := range order {
		if ValidTransition(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// IsTerminal reports whether no edge leaves s.
func IsTerminal(s models.AppointmentStatus) bool {
	switch s {
	case models.StatusCompleted, models.StatusCancelled, models.StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether the appointment still occupies a queue slot.
func IsActive(s models.AppointmentStatus) bool {
	switch s {
	case models.StatusPending, models.StatusConfirmed, models.StatusInProgress:
		return true
	}
	return false
}

// Request describes a requested status change.
type Request struct {
	Target models.AppointmentStatus
	Actor  Actor
	Reason string
	// MeetLink is supplied by the doctor when starting an online consultation.
	MeetLink string
	// FallbackMeetLink is the doctor's configured room, used when neither the
	// request nor the appointment carries a link.
	FallbackMeetLink string
	Now              time.Time
}

// Change is the outcome of an allowed transition. Apply copies it onto the
// appointment; the store persists it conditionally on From.
type Change struct {
	From models.AppointmentStatus
	To   models.AppointmentStatus

	MeetLink              string
	CancelledReason       string
	ConsultationStartedAt *time.Time
	ConsultationEndedAt   *time.Time

	// StartConsultation is set when entering in_progress.
	StartConsultation *models.Consultation
	// EndConsultation is set when leaving in_progress.
	EndConsultation bool

	// Notice is the system message posted to the thread.
	Notice string
}

// Transition validates req against the current appointment and returns the
// resulting change.
func Transition(appt models.Appointment, req Request) (Change, error) {
	from := appt.Status
	to := req.Target

	roles, ok := transitionMap[edge{from, to}]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, from, to)
	}
	if !permitted(appt, req.Actor, roles) {
		return Change{}, fmt.Errorf("%w: %s may not move appointment to %s", apperrors.ErrForbidden, req.Actor.Role, to)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	change := Change{From: from, To: to, MeetLink: appt.MeetLink}

	switch to {
	case models.StatusConfirmed:
		change.Notice = "Appointment confirmed."
	case models.StatusInProgress:
		if appt.Mode == models.ModeOnline {
			link := firstNonBlank(req.MeetLink, appt.MeetLink, req.FallbackMeetLink)
			if link == "" {
				return Change{}, apperrors.ErrMissingMeetingLink
			}
			change.MeetLink = link
		}
		change.ConsultationStartedAt = &now
		change.StartConsultation = &models.Consultation{
			AppointmentID: appt.ID,
			DoctorID:      appt.DoctorID,
			PatientID:     appt.PatientID,
			IsOnline:      appt.Mode == models.ModeOnline,
			MeetLink:      change.MeetLink,
			Status:        models.ConsultationInProgress,
			StartedAt:     now,
		}
		change.Notice = "Consultation started."
	case models.StatusCompleted:
		change.ConsultationEndedAt = &now
		change.EndConsultation = true
		change.Notice = "Consultation completed."
	case models.StatusCancelled:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return Change{}, fmt.Errorf("%w: cancellation reason is required", apperrors.ErrValidation)
		}
		change.CancelledReason = reason
		change.Notice = "Appointment cancelled: " + reason
	case models.StatusNoShow:
		change.Notice = "Patient marked as no-show."
	}

	return change, nil
}

// Apply copies the change onto appt.
func (c Change) Apply(appt *models.Appointment) {
	appt.Status = c.To
	if c.MeetLink != "" {
		appt.MeetLink = c.MeetLink
	}
	if c.CancelledReason != "" {
		appt.CancelledReason = c.CancelledReason
	}
	if c.ConsultationStartedAt != nil {
		appt.ConsultationStartedAt = c.ConsultationStartedAt
	}
	if c.ConsultationEndedAt != nil {
		appt.ConsultationEndedAt = c.ConsultationEndedAt
	}
	appt.NormalizeModeFields()
}

// IsParticipant reports whether actor is the appointment's doctor or patient,
// or an admin.
func IsParticipant(appt models.Appointment, actor Actor) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleDoctor:
		return actor.ID == appt.DoctorID
	case models.RolePatient:
		return actor.ID == appt.PatientID
	}
	return false
}

func permitted(appt models.Appointment, actor Actor, roles []models.Role) bool {
	if !IsParticipant(appt, actor) {
		return false
	}
	for _, r := range roles {
		if r == actor.Role {
			return true
		}
	}
	return false
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
