// Package service runs the read-check-write cycle of every appointment
// operation and derives the queue and conversation views on read.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/observability"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/store"
)

// Options carries the clinic-wide policy.
type Options struct {
	Location *time.Location
	Defaults queue.Settings
	Policy   messaging.Policy
	// Now is overridden in tests.
	Now func() time.Time
}

type Service struct {
	store  store.Store
	bus    events.Bus
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer
}

func New(st store.Store, bus events.Bus, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Defaults.AvgConsultationMinutes <= 0 {
		opts.Defaults.AvgConsultationMinutes = queue.DefaultAvgConsultationMinutes
	}
	return &Service{
		store:  st,
		bus:    bus,
		opts:   opts,
		logger: logger,
		tracer: observability.Tracer(),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// Today is the clinic's current calendar date.
func (s *Service) Today() string {
	return queue.DateKey(s.now(), s.opts.Location)
}

// BookRequest describes a new appointment.
type BookRequest struct {
	DoctorID       string
	PatientID      string
	Mode           models.Mode
	ScheduledTime  time.Time
	PatientName    string
	ChiefComplaint string
}

func (s *Service) Book(ctx context.Context, actor lifecycle.Actor, req BookRequest) (models.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "service.Book")
	defer span.End()

	switch actor.Role {
	case models.RolePatient:
		if req.PatientID == "" {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return models.Appointment{}, fmt.Errorf("%w: patients book for themselves", apperrors.ErrForbidden)
		}
	case models.RoleDoctor:
		if req.DoctorID != actor.ID {
			return models.Appointment{}, fmt.Errorf("%w: doctors book into their own queue", apperrors.ErrForbidden)
		}
	case models.RoleAdmin:
	default:
		return models.Appointment{}, apperrors.ErrForbidden
	}
	if req.Mode != models.ModeOnline && req.Mode != models.ModeOffline {
		return models.Appointment{}, fmt.Errorf("%w: mode must be online or offline", apperrors.ErrValidation)
	}
	if req.ScheduledTime.IsZero() {
		return models.Appointment{}, fmt.Errorf("%w: scheduled time is required", apperrors.ErrValidation)
	}

	doctor, err := s.store.GetUser(ctx, req.DoctorID)
	if err != nil {
		return models.Appointment{}, err
	}
	if doctor.Role != models.RoleDoctor {
		return models.Appointment{}, fmt.Errorf("%w: user %s is not a doctor", apperrors.ErrValidation, req.DoctorID)
	}
	patient, err := s.store.GetUser(ctx, req.PatientID)
	if err != nil {
		return models.Appointment{}, err
	}

	settings, err := s.store.GetSettings(ctx, req.DoctorID)
	if err != nil {
		return models.Appointment{}, err
	}
	if settings != nil && !settings.AcceptingAppointments {
		return models.Appointment{}, fmt.Errorf("%w: doctor is not accepting appointments", apperrors.ErrValidation)
	}

	input := store.BookInput{
		DoctorID:       req.DoctorID,
		PatientID:      req.PatientID,
		Mode:           req.Mode,
		ScheduledTime:  req.ScheduledTime,
		QueueDate:      queue.DateKey(req.ScheduledTime, s.opts.Location),
		PatientName:    strings.TrimSpace(req.PatientName),
		ChiefComplaint: strings.TrimSpace(req.ChiefComplaint),
	}
	if input.PatientName == "" {
		input.PatientName = patient.FullName()
	}
	if settings != nil && req.Mode == models.ModeOffline {
		input.HospitalAddress = settings.HospitalAddress
	}

	appt, err := s.store.Book(ctx, input)
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID), attribute.Int("appointment.queue_number", appt.QueueNumber))

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", appt.DoctorID).
		Str("queue_date", appt.QueueDate).
		Int("queue_number", appt.QueueNumber).
		Msg("appointment booked")
	s.publishAppointment(ctx, appt)
	return appt, nil
}

// GetAppointment returns the appointment if actor takes part in it.
func (s *Service) GetAppointment(ctx context.Context, actor lifecycle.Actor, id string) (models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	if !lifecycle.IsParticipant(appt, actor) {
		return models.Appointment{}, fmt.Errorf("%w: not a participant of appointment %s", apperrors.ErrForbidden, id)
	}
	return appt, nil
}

// TransitionRequest asks for a status change. Version, when set, must match
// the version the caller last saw.
type TransitionRequest struct {
	Status   models.AppointmentStatus
	Reason   string
	MeetLink string
	Version  *int64
}

func (s *Service) Transition(ctx context.Context, actor lifecycle.Actor, id string, req TransitionRequest) (models.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "service.Transition", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("appointment.target_status", string(req.Status)),
	))
	defer span.End()

	if !req.Status.Valid() {
		return fail(span, models.Appointment{}, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, req.Status))
	}
	appt, err := s.GetAppointment(ctx, actor, id)
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}
	if req.Version != nil && *req.Version != appt.Version {
		return fail(span, models.Appointment{}, fmt.Errorf("appointment %s is at version %d: %w", id, appt.Version, apperrors.ErrConflict))
	}

	var fallback string
	if req.Status == models.StatusInProgress && appt.Mode == models.ModeOnline {
		settings, err := s.store.GetSettings(ctx, appt.DoctorID)
		if err != nil {
			return fail(span, models.Appointment{}, err)
		}
		if settings != nil {
			fallback = settings.CustomMeetLink
		}
	}

	now := s.now()
	change, err := lifecycle.Transition(appt, lifecycle.Request{
		Target:           req.Status,
		Actor:            actor,
		Reason:           req.Reason,
		MeetLink:         req.MeetLink,
		FallbackMeetLink: fallback,
		Now:              now,
	})
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}
	if change.To == models.StatusInProgress {
		if err := s.ensureNobodyServing(ctx, appt); err != nil {
			return fail(span, models.Appointment{}, err)
		}
	}

	var notice *models.Message
	if change.Notice != "" {
		n := messaging.SystemNotice(appt.ID, change.Notice, now)
		notice = &n
	}
	updated, err := s.store.ApplyTransition(ctx, store.TransitionInput{
		AppointmentID:   appt.ID,
		ExpectedVersion: appt.Version,
		Change:          change,
		Actor:           actor,
		Notice:          notice,
		At:              now,
	})
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}

	logger := observability.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("appointment_id", appt.ID).
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Str("actor_id", actor.ID).
		Msg("appointment status changed")
	s.publishAppointment(ctx, updated)
	return updated, nil
}

// ensureNobodyServing refuses to start appt while its doctor is already in a
// consultation that day. The store repeats the check under its lock.
func (s *Service) ensureNobodyServing(ctx context.Context, appt models.Appointment) error {
	day, err := s.store.ListByDoctorDate(ctx, appt.DoctorID, appt.QueueDate)
	if err != nil {
		return err
	}
	for _, other := range day {
		if other.ID != appt.ID && other.Status == models.StatusInProgress {
			return fmt.Errorf("doctor is already serving queue number %d: %w", other.QueueNumber, apperrors.ErrConflict)
		}
	}
	return nil
}

// RescheduleRequest moves an appointment to a new time. Moving it to another
// day gives it a fresh queue number at the end of that day.
type RescheduleRequest struct {
	ScheduledTime time.Time
	Version       *int64
}

func (s *Service) Reschedule(ctx context.Context, actor lifecycle.Actor, id string, req RescheduleRequest) (models.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "service.Reschedule", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	if actor.Role != models.RoleDoctor && actor.Role != models.RolePatient && actor.Role != models.RoleAdmin {
		return fail(span, models.Appointment{}, apperrors.ErrForbidden)
	}
	if req.ScheduledTime.IsZero() {
		return fail(span, models.Appointment{}, fmt.Errorf("%w: scheduled time is required", apperrors.ErrValidation))
	}
	appt, err := s.GetAppointment(ctx, actor, id)
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}
	version := appt.Version
	if req.Version != nil {
		version = *req.Version
	}

	now := s.now()
	when := req.ScheduledTime.In(s.opts.Location)
	notice := messaging.SystemNotice(appt.ID,
		fmt.Sprintf("Appointment rescheduled to %s at %s.", queue.DayLabel(when, now, s.opts.Location), when.Format("15:04")),
		now)
	updated, err := s.store.Reschedule(ctx, store.RescheduleInput{
		AppointmentID:   appt.ID,
		ExpectedVersion: version,
		ScheduledTime:   req.ScheduledTime,
		QueueDate:       queue.DateKey(req.ScheduledTime, s.opts.Location),
		Actor:           actor,
		Notice:          &notice,
		At:              now,
	})
	if err != nil {
		return fail(span, models.Appointment{}, err)
	}

	s.publishAppointment(ctx, updated)
	if updated.QueueDate != appt.QueueDate {
		// The old day lost a slot.
		s.publish(ctx, events.QueueChannel(appt.DoctorID, appt.QueueDate),
			events.New(events.KindAppointmentUpdated, appt.ID, appt.DoctorID, appt.QueueDate))
	}
	return updated, nil
}

// Join records that the patient is in the waiting room.
func (s *Service) Join(ctx context.Context, actor lifecycle.Actor, id string) (models.Appointment, error) {
	if actor.Role != models.RolePatient {
		return models.Appointment{}, fmt.Errorf("%w: only the patient can join", apperrors.ErrForbidden)
	}
	if _, err := s.GetAppointment(ctx, actor, id); err != nil {
		return models.Appointment{}, err
	}
	appt, err := s.store.MarkPatientJoined(ctx, id, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	s.publishAppointment(ctx, appt)
	return appt, nil
}

// QueuePosition recomputes the caller's position from the doctor's current
// day. Nothing is cached between reads.
func (s *Service) QueuePosition(ctx context.Context, actor lifecycle.Actor, id string) (queue.Position, error) {
	appt, err := s.GetAppointment(ctx, actor, id)
	if err != nil {
		return queue.Position{}, err
	}
	day, err := s.store.ListByDoctorDate(ctx, appt.DoctorID, appt.QueueDate)
	if err != nil {
		return queue.Position{}, err
	}
	snap, err := queue.Build(day, appt.QueueDate)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", appt.DoctorID).Str("queue_date", appt.QueueDate).Msg("inconsistent queue")
		return queue.Position{}, err
	}

	settings, err := s.store.GetSettings(ctx, appt.DoctorID)
	if err != nil {
		return queue.Position{}, err
	}
	now := s.now()
	windows, err := s.store.ListUnavailability(ctx, appt.DoctorID, now, now.Add(time.Second))
	if err != nil {
		return queue.Position{}, err
	}

	return queue.Compute(appt, snap, queue.Resolve(s.opts.Defaults, settings), queue.ActiveUnavailability(windows, now)), nil
}

// DoctorBoard lists a doctor's day with stats. date defaults to today.
func (s *Service) DoctorBoard(ctx context.Context, actor lifecycle.Actor, doctorID, date string) (queue.Board, error) {
	if !canManageDoctor(actor, doctorID) {
		return queue.Board{}, fmt.Errorf("%w: not this doctor's queue", apperrors.ErrForbidden)
	}
	if date == "" {
		date = s.Today()
	} else if _, err := time.Parse(queue.DateLayout, date); err != nil {
		return queue.Board{}, fmt.Errorf("%w: date must be YYYY-MM-DD", apperrors.ErrValidation)
	}
	day, err := s.store.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return queue.Board{}, err
	}
	return queue.BuildBoard(day, date)
}

// PatientAppointments lists a patient's appointments. A doctor only sees
// the ones booked with them.
func (s *Service) PatientAppointments(ctx context.Context, actor lifecycle.Actor, patientID string) ([]models.Appointment, error) {
	if actor.Role == models.RolePatient && actor.ID != patientID {
		return nil, fmt.Errorf("%w: patients only see their own appointments", apperrors.ErrForbidden)
	}
	appts, err := s.store.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RolePatient, models.RoleAdmin:
		return appts, nil
	case models.RoleDoctor:
		mine := []models.Appointment{}
		for _, a := range appts {
			if a.DoctorID == actor.ID {
				mine = append(mine, a)
			}
		}
		return mine, nil
	}
	return nil, apperrors.ErrForbidden
}

func canManageDoctor(actor lifecycle.Actor, doctorID string) bool {
	return actor.Role == models.RoleAdmin || (actor.Role == models.RoleDoctor && actor.ID == doctorID)
}

func (s *Service) publishAppointment(ctx context.Context, appt models.Appointment) {
	ev := events.New(events.KindAppointmentUpdated, appt.ID, appt.DoctorID, appt.QueueDate)
	s.publish(ctx, events.QueueChannel(appt.DoctorID, appt.QueueDate), ev)
	s.publish(ctx, events.AppointmentChannel(appt.ID), ev)
}

// publish never fails the caller; subscribers re-read state anyway.
func (s *Service) publish(ctx context.Context, channel string, ev events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, ev); err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Str("kind", string(ev.Kind)).Msg("publish event")
	}
}

func fail[T any](span trace.Span, zero T, err error) (T, error) {
	span.RecordError(err)
	if status, _ := apperrors.Map(err); status >= 500 || errors.Is(err, apperrors.ErrConflict) {
		span.SetStatus(codes.Error, err.Error())
	}
	return zero, err
}
