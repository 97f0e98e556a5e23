// Package memory is an in-process store.Store. It keeps the same
// conditional-write and numbering guarantees as the MySQL store and backs
// local runs without a database and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/store"
)

type Store struct {
	mu            sync.Mutex
	appointments  map[string]models.Appointment
	consultations map[string]models.Consultation
	messages      map[string][]models.Message
	settings      map[string]models.DoctorSettings
	windows       map[string][]models.DoctorUnavailability
	users         map[string]models.User
	audit         []models.AuditEntry
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		appointments:  make(map[string]models.Appointment),
		consultations: make(map[string]models.Consultation),
		messages:      make(map[string][]models.Message),
		settings:      make(map[string]models.DoctorSettings),
		windows:       make(map[string][]models.DoctorUnavailability),
		users:         make(map[string]models.User),
	}
}

// PutUser adds or replaces an account.
func (s *Store) PutUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	return u
}

// Audit returns a copy of the audit trail.
func (s *Store) Audit() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.audit...)
}

func (s *Store) Book(_ context.Context, input store.BookInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	appt := models.Appointment{
		DoctorID:        input.DoctorID,
		PatientID:       input.PatientID,
		Mode:            input.Mode,
		ScheduledTime:   input.ScheduledTime.UTC(),
		QueueDate:       input.QueueDate,
		QueueNumber:     s.nextQueueNumber(input.DoctorID, input.QueueDate),
		Status:          models.StatusPending,
		MeetLink:        input.MeetLink,
		HospitalAddress: input.HospitalAddress,
		PatientName:     input.PatientName,
		ChiefComplaint:  input.ChiefComplaint,
		Version:         1,
	}
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	appt.NormalizeModeFields()
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) nextQueueNumber(doctorID, date string) int {
	last := 0
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.QueueDate == date && a.QueueNumber > last {
			last = a.QueueNumber
		}
	}
	return last + 1
}

func (s *Store) GetAppointment(_ context.Context, id string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return models.Appointment{}, fmt.Errorf("appointment: %w", apperrors.ErrNotFound)
	}
	return appt, nil
}

func (s *Store) filter(keep func(models.Appointment) bool, less func(a, b models.Appointment) bool) []models.Appointment {
	out := []models.Appointment{}
	for _, a := range s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func latestFirst(a, b models.Appointment) bool {
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.After(b.ScheduledTime)
	}
	return a.ID < b.ID
}

func (s *Store) ListByDoctorDate(_ context.Context, doctorID, date string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(
		func(a models.Appointment) bool { return a.DoctorID == doctorID && a.QueueDate == date },
		func(a, b models.Appointment) bool { return a.QueueNumber < b.QueueNumber },
	), nil
}

func (s *Store) ListByPatient(_ context.Context, patientID string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(a models.Appointment) bool { return a.PatientID == patientID }, latestFirst), nil
}

func (s *Store) ListByDoctor(_ context.Context, doctorID string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(a models.Appointment) bool { return a.DoctorID == doctorID }, latestFirst), nil
}

func (s *Store) ApplyTransition(_ context.Context, input store.TransitionInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, fmt.Errorf("appointment %s: %w", input.AppointmentID, apperrors.ErrNotFound)
	}
	change := input.Change
	if appt.Status != change.From || appt.Version != input.ExpectedVersion {
		return models.Appointment{}, fmt.Errorf("appointment %s is %s at version %d: %w", appt.ID, appt.Status, appt.Version, apperrors.ErrConflict)
	}
	if change.To == models.StatusInProgress {
		for _, other := range s.appointments {
			if other.ID != appt.ID && other.DoctorID == appt.DoctorID &&
				other.QueueDate == appt.QueueDate && other.Status == models.StatusInProgress {
				return models.Appointment{}, fmt.Errorf("doctor is already serving queue number %d: %w", other.QueueNumber, apperrors.ErrConflict)
			}
		}
	}

	change.Apply(&appt)
	appt.Version++
	appt.UpdatedAt = input.At.UTC()
	s.appointments[appt.ID] = appt

	if c := change.StartConsultation; c != nil {
		consultation := *c
		consultation.ID = uuid.NewString()
		s.consultations[appt.ID] = consultation
	}
	if change.EndConsultation {
		if c, ok := s.consultations[appt.ID]; ok && c.Status == models.ConsultationInProgress {
			ended := input.At.UTC()
			c.Status = models.ConsultationCompleted
			c.EndedAt = &ended
			s.consultations[appt.ID] = c
		}
	}
	if input.Notice != nil {
		s.append(*input.Notice)
	}
	s.record(string(change.To), input.Actor, appt.ID, change.CancelledReason)
	return appt, nil
}

func (s *Store) Reschedule(_ context.Context, input store.RescheduleInput) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, fmt.Errorf("appointment: %w", apperrors.ErrNotFound)
	}
	if appt.Version != input.ExpectedVersion {
		return models.Appointment{}, fmt.Errorf("appointment %s is at version %d: %w", appt.ID, appt.Version, apperrors.ErrConflict)
	}
	if appt.Status != models.StatusPending && appt.Status != models.StatusConfirmed {
		return models.Appointment{}, fmt.Errorf("%w: cannot reschedule a %s appointment", apperrors.ErrInvalidTransition, appt.Status)
	}

	if input.QueueDate != appt.QueueDate {
		appt.QueueNumber = s.nextQueueNumber(appt.DoctorID, input.QueueDate)
		appt.QueueDate = input.QueueDate
	}
	appt.ScheduledTime = input.ScheduledTime.UTC()
	appt.Version++
	appt.UpdatedAt = input.At.UTC()
	s.appointments[appt.ID] = appt

	if input.Notice != nil {
		s.append(*input.Notice)
	}
	s.record("rescheduled", input.Actor, appt.ID, appt.ScheduledTime.Format(time.RFC3339))
	return appt, nil
}

func (s *Store) MarkPatientJoined(_ context.Context, appointmentID string, at time.Time) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, fmt.Errorf("appointment: %w", apperrors.ErrNotFound)
	}
	if !lifecycle.IsActive(appt.Status) {
		return models.Appointment{}, fmt.Errorf("%w: appointment is %s", apperrors.ErrInvalidTransition, appt.Status)
	}
	if appt.PatientJoinedAt == nil {
		joined := at.UTC()
		appt.PatientJoinedAt = &joined
		appt.Version++
		s.appointments[appt.ID] = appt
	}
	return appt, nil
}

func (s *Store) GetConsultation(_ context.Context, appointmentID string) (models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[appointmentID]
	if !ok {
		return models.Consultation{}, fmt.Errorf("consultation: %w", apperrors.ErrNotFound)
	}
	return c, nil
}

func (s *Store) AppendMessage(_ context.Context, msg models.Message) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[msg.AppointmentID]; !ok {
		return models.Message{}, false, fmt.Errorf("appointment: %w", apperrors.ErrNotFound)
	}
	stored, created := s.append(msg)
	return stored, created, nil
}

func (s *Store) append(msg models.Message) (models.Message, bool) {
	thread := s.messages[msg.AppointmentID]
	if msg.ClientKey == "" {
		msg.ClientKey = uuid.NewString()
	} else {
		for _, existing := range thread {
			if existing.ClientKey == msg.ClientKey {
				return existing, false
			}
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seq = int64(len(thread) + 1)
	s.messages[msg.AppointmentID] = append(thread, msg)
	return msg, true
}

func (s *Store) ListMessages(_ context.Context, appointmentID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Message{}, s.messages[appointmentID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Store) GetSettings(_ context.Context, doctorID string) (*models.DoctorSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[doctorID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings models.DoctorSettings) (models.DoctorSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	s.settings[settings.DoctorID] = settings
	return settings, nil
}

func (s *Store) AddUnavailability(_ context.Context, window models.DoctorUnavailability) (models.DoctorUnavailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	window.StartTime = window.StartTime.UTC()
	window.EndTime = window.EndTime.UTC()
	s.windows[window.DoctorID] = append(s.windows[window.DoctorID], window)
	return window, nil
}

func (s *Store) ListUnavailability(_ context.Context, doctorID string, from, to time.Time) ([]models.DoctorUnavailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DoctorUnavailability
	for _, w := range s.windows[doctorID] {
		if w.StartTime.Before(to) && w.EndTime.After(from) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user: %w", apperrors.ErrNotFound)
	}
	return u, nil
}

func (s *Store) UserNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			names[id] = u.FullName()
		}
	}
	return names, nil
}

func (s *Store) record(action string, actor lifecycle.Actor, appointmentID, detail string) {
	entry := models.AuditEntry{
		Action:        action,
		ActorRole:     actor.Role,
		ActorID:       actor.ID,
		AppointmentID: appointmentID,
		Detail:        detail,
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	s.audit = append(s.audit, entry)
}
