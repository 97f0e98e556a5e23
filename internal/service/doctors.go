package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
)

// Settings returns the doctor's saved settings or the defaults.
func (s *Service) Settings(ctx context.Context, actor lifecycle.Actor, doctorID string) (models.DoctorSettings, error) {
	if !canManageDoctor(actor, doctorID) {
		return models.DoctorSettings{}, apperrors.ErrForbidden
	}
	settings, err := s.store.GetSettings(ctx, doctorID)
	if err != nil {
		return models.DoctorSettings{}, err
	}
	if settings == nil {
		return models.DoctorSettings{DoctorID: doctorID, AcceptingAppointments: true}, nil
	}
	return *settings, nil
}

func (s *Service) SaveSettings(ctx context.Context, actor lifecycle.Actor, settings models.DoctorSettings) (models.DoctorSettings, error) {
	if !canManageDoctor(actor, settings.DoctorID) {
		return models.DoctorSettings{}, apperrors.ErrForbidden
	}
	if settings.ConsultationDurationMins < 0 {
		return models.DoctorSettings{}, fmt.Errorf("%w: consultation duration must not be negative", apperrors.ErrValidation)
	}
	if settings.WaitingRoomThreshold != nil && *settings.WaitingRoomThreshold < 0 {
		return models.DoctorSettings{}, fmt.Errorf("%w: waiting room threshold must not be negative", apperrors.ErrValidation)
	}
	settings.CustomMeetLink = strings.TrimSpace(settings.CustomMeetLink)
	settings.HospitalAddress = strings.TrimSpace(settings.HospitalAddress)

	saved, err := s.store.SaveSettings(ctx, settings)
	if err != nil {
		return models.DoctorSettings{}, err
	}
	s.publishDoctor(ctx, settings.DoctorID)
	return saved, nil
}

// UnavailabilityRequest marks the doctor away for a while.
type UnavailabilityRequest struct {
	StartTime     time.Time
	EndTime       time.Time
	Reason        models.UnavailabilityReason
	CustomMessage string
}

func (s *Service) AddUnavailability(ctx context.Context, actor lifecycle.Actor, doctorID string, req UnavailabilityRequest) (models.DoctorUnavailability, error) {
	if !canManageDoctor(actor, doctorID) {
		return models.DoctorUnavailability{}, apperrors.ErrForbidden
	}
	if req.StartTime.IsZero() {
		req.StartTime = s.now()
	}
	if !req.EndTime.After(req.StartTime) {
		return models.DoctorUnavailability{}, fmt.Errorf("%w: end time must be after start time", apperrors.ErrValidation)
	}
	switch req.Reason {
	case models.ReasonBreak, models.ReasonEmergency, models.ReasonPersonal, models.ReasonOther:
	case "":
		req.Reason = models.ReasonOther
	default:
		return models.DoctorUnavailability{}, fmt.Errorf("%w: unknown reason %q", apperrors.ErrValidation, req.Reason)
	}

	window, err := s.store.AddUnavailability(ctx, models.DoctorUnavailability{
		DoctorID:      doctorID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Reason:        req.Reason,
		CustomMessage: strings.TrimSpace(req.CustomMessage),
	})
	if err != nil {
		return models.DoctorUnavailability{}, err
	}
	s.logger.Info().Str("doctor_id", doctorID).Time("until", window.EndTime).Str("reason", string(window.Reason)).Msg("doctor unavailable")
	s.publishDoctor(ctx, doctorID)
	return window, nil
}

func (s *Service) publishDoctor(ctx context.Context, doctorID string) {
	s.publish(ctx, events.DoctorChannel(doctorID), events.New(events.KindDoctorUpdated, "", doctorID, ""))
}
