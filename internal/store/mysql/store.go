package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/store"
)

// Booking retries when two transactions race past the row lock on an empty
// day and the unique queue index rejects the loser.
const maxBookAttempts = 3

// Store implements store.Store on gorm. The *gorm.DB must be opened with
// TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Book(ctx context.Context, input store.BookInput) (models.Appointment, error) {
	for attempt := 1; ; attempt++ {
		var appt models.Appointment
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			next, err := nextQueueNumber(tx, input.DoctorID, input.QueueDate)
			if err != nil {
				return err
			}
			appt = models.Appointment{
				DoctorID:        input.DoctorID,
				PatientID:       input.PatientID,
				Mode:            input.Mode,
				ScheduledTime:   input.ScheduledTime.UTC(),
				QueueDate:       input.QueueDate,
				QueueNumber:     next,
				Status:          models.StatusPending,
				MeetLink:        input.MeetLink,
				HospitalAddress: input.HospitalAddress,
				PatientName:     input.PatientName,
				ChiefComplaint:  input.ChiefComplaint,
				Version:         1,
			}
			appt.NormalizeModeFields()
			return tx.Create(&appt).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < maxBookAttempts {
			continue
		}
		if err != nil {
			return models.Appointment{}, fmt.Errorf("book appointment: %w", err)
		}
		return appt, nil
	}
}

// nextQueueNumber locks the doctor's day and returns max+1. Gaps left by
// cancellations are never filled.
func nextQueueNumber(tx *gorm.DB, doctorID, date string) (int, error) {
	var last int
	err := tx.Model(&models.Appointment{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("doctor_id = ? AND queue_date = ?", doctorID, date).
		Select("COALESCE(MAX(queue_number), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("next queue number: %w", err)
	}
	return last + 1, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, "id = ?", id).Error; err != nil {
		return models.Appointment{}, notFound(err, "appointment")
	}
	return appt, nil
}

func (s *Store) ListByDoctorDate(ctx context.Context, doctorID, date string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("doctor_id = ? AND queue_date = ?", doctorID, date).
		Order("queue_number asc").
		Find(&appts).Error
	if err != nil {
		return nil, fmt.Errorf("list doctor day: %w", err)
	}
	return appts, nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("scheduled_time desc").
		Find(&appts).Error
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return appts, nil
}

func (s *Store) ListByDoctor(ctx context.Context, doctorID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("scheduled_time desc").
		Find(&appts).Error
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return appts, nil
}

func (s *Store) ApplyTransition(ctx context.Context, input store.TransitionInput) (models.Appointment, error) {
	change := input.Change
	at := input.At.UTC()

	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     change.To,
			"version":    gorm.Expr("version + 1"),
			"updated_at": at,
		}
		if change.MeetLink != "" {
			updates["meet_link"] = change.MeetLink
		}
		if change.CancelledReason != "" {
			updates["cancelled_reason"] = change.CancelledReason
		}
		if change.ConsultationStartedAt != nil {
			updates["consultation_started_at"] = change.ConsultationStartedAt.UTC()
		}
		if change.ConsultationEndedAt != nil {
			updates["consultation_ended_at"] = change.ConsultationEndedAt.UTC()
		}

		if change.To == models.StatusInProgress {
			if err := ensureNobodyServing(tx, input.AppointmentID); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status = ? AND version = ?", input.AppointmentID, change.From, input.ExpectedVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update appointment status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return classifyMiss(tx, input.AppointmentID)
		}

		if c := change.StartConsultation; c != nil {
			consultation := *c
			if err := tx.Create(&consultation).Error; err != nil {
				return fmt.Errorf("create consultation: %w", err)
			}
		}
		if change.EndConsultation {
			err := tx.Model(&models.Consultation{}).
				Where("appointment_id = ? AND status = ?", input.AppointmentID, models.ConsultationInProgress).
				Updates(map[string]interface{}{
					"status":   models.ConsultationCompleted,
					"ended_at": at,
				}).Error
			if err != nil {
				return fmt.Errorf("end consultation: %w", err)
			}
		}
		if input.Notice != nil {
			if _, _, err := appendMessage(tx, *input.Notice); err != nil {
				return err
			}
		}
		if err := audit(tx, string(change.To), input.Actor, input.AppointmentID, change.CancelledReason); err != nil {
			return err
		}
		return tx.First(&appt, "id = ?", input.AppointmentID).Error
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// ensureNobodyServing locks the appointment's day for its doctor and fails
// if another appointment on it is already in progress.
func ensureNobodyServing(tx *gorm.DB, id string) error {
	var appt models.Appointment
	err := tx.Select("id", "doctor_id", "queue_date").First(&appt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("appointment %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	var day []models.Appointment
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "queue_number", "status").
		Where("doctor_id = ? AND queue_date = ?", appt.DoctorID, appt.QueueDate).
		Find(&day).Error
	if err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	for _, other := range day {
		if other.ID != id && other.Status == models.StatusInProgress {
			return fmt.Errorf("doctor is already serving queue number %d: %w", other.QueueNumber, apperrors.ErrConflict)
		}
	}
	return nil
}

// classifyMiss explains why a conditional update matched no row.
func classifyMiss(tx *gorm.DB, id string) error {
	var current models.Appointment
	err := tx.Select("id", "status", "version").First(&current, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("appointment %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load appointment state: %w", err)
	}
	return fmt.Errorf("appointment %s is %s at version %d: %w", id, current.Status, current.Version, apperrors.ErrConflict)
}

func (s *Store) Reschedule(ctx context.Context, input store.RescheduleInput) (models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&appt, "id = ?", input.AppointmentID).Error; err != nil {
			return notFound(err, "appointment")
		}
		if appt.Version != input.ExpectedVersion {
			return fmt.Errorf("appointment %s is at version %d: %w", appt.ID, appt.Version, apperrors.ErrConflict)
		}
		if appt.Status != models.StatusPending && appt.Status != models.StatusConfirmed {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", apperrors.ErrInvalidTransition, appt.Status)
		}

		updates := map[string]interface{}{
			"scheduled_time": input.ScheduledTime.UTC(),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     input.At.UTC(),
		}
		if input.QueueDate != appt.QueueDate {
			next, err := nextQueueNumber(tx, appt.DoctorID, input.QueueDate)
			if err != nil {
				return err
			}
			updates["queue_date"] = input.QueueDate
			updates["queue_number"] = next
		}
		if err := tx.Model(&models.Appointment{}).Where("id = ?", appt.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		if input.Notice != nil {
			if _, _, err := appendMessage(tx, *input.Notice); err != nil {
				return err
			}
		}
		if err := audit(tx, "rescheduled", input.Actor, appt.ID, input.ScheduledTime.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		return tx.First(&appt, "id = ?", appt.ID).Error
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) MarkPatientJoined(ctx context.Context, appointmentID string, at time.Time) (models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&appt, "id = ?", appointmentID).Error; err != nil {
			return notFound(err, "appointment")
		}
		if !lifecycle.IsActive(appt.Status) {
			return fmt.Errorf("%w: appointment is %s", apperrors.ErrInvalidTransition, appt.Status)
		}
		if appt.PatientJoinedAt != nil {
			return nil
		}
		err := tx.Model(&models.Appointment{}).Where("id = ?", appt.ID).Updates(map[string]interface{}{
			"patient_joined_at": at.UTC(),
			"version":           gorm.Expr("version + 1"),
		}).Error
		if err != nil {
			return fmt.Errorf("mark patient joined: %w", err)
		}
		return tx.First(&appt, "id = ?", appt.ID).Error
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) GetConsultation(ctx context.Context, appointmentID string) (models.Consultation, error) {
	var c models.Consultation
	if err := s.db.WithContext(ctx).First(&c, "appointment_id = ?", appointmentID).Error; err != nil {
		return models.Consultation{}, notFound(err, "consultation")
	}
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	var (
		stored  models.Message
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the appointment row so sequence numbers are assigned in order.
		var appt models.Appointment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&appt, "id = ?", msg.AppointmentID).Error; err != nil {
			return notFound(err, "appointment")
		}
		var err error
		stored, created, err = appendMessage(tx, msg)
		return err
	})
	if err != nil {
		return models.Message{}, false, err
	}
	return stored, created, nil
}

func appendMessage(tx *gorm.DB, msg models.Message) (models.Message, bool, error) {
	if msg.ClientKey == "" {
		msg.ClientKey = uuid.NewString()
	} else {
		var existing models.Message
		err := tx.Where("appointment_id = ? AND client_key = ?", msg.AppointmentID, msg.ClientKey).First(&existing).Error
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, false, fmt.Errorf("look up client key: %w", err)
		}
	}

	var last int64
	err := tx.Model(&models.Message{}).
		Where("appointment_id = ?", msg.AppointmentID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return models.Message{}, false, fmt.Errorf("next message seq: %w", err)
	}
	msg.Seq = last + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := tx.Create(&msg).Error; err != nil {
		return models.Message{}, false, fmt.Errorf("append message: %w", err)
	}
	return msg, true, nil
}

func (s *Store) ListMessages(ctx context.Context, appointmentID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at asc, seq asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func audit(tx *gorm.DB, action string, actor lifecycle.Actor, appointmentID, detail string) error {
	entry := models.AuditEntry{
		Action:        action,
		ActorRole:     actor.Role,
		ActorID:       actor.ID,
		AppointmentID: appointmentID,
		Detail:        detail,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
