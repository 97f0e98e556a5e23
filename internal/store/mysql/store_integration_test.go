package mysql

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/store"
)

func setupTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is required for integration tests")
	}
	db, err := models.InitDB(models.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)
	return New(db), db
}

func seedUsers(t *testing.T, db *gorm.DB) (doctor, patient models.User) {
	t.Helper()
	doctor = models.User{Email: uuid.NewString() + "@example.com", FirstName: "Ravi", LastName: "Iyer", Role: models.RoleDoctor}
	patient = models.User{Email: uuid.NewString() + "@example.com", FirstName: "Asha", LastName: "Rao", Role: models.RolePatient}
	require.NoError(t, db.Create(&doctor).Error)
	require.NoError(t, db.Create(&patient).Error)
	return doctor, patient
}

func book(t *testing.T, s *Store, doctorID, patientID, date string) models.Appointment {
	t.Helper()
	appt, err := s.Book(context.Background(), store.BookInput{
		DoctorID:      doctorID,
		PatientID:     patientID,
		Mode:          models.ModeOnline,
		ScheduledTime: time.Now().Add(time.Hour),
		QueueDate:     date,
		PatientName:   "Asha Rao",
	})
	require.NoError(t, err)
	return appt
}

func TestBookAssignsIncreasingQueueNumbers(t *testing.T) {
	s, db := setupTestStore(t)
	doctor, patient := seedUsers(t, db)
	date := "2031-01-05"

	first := book(t, s, doctor.ID, patient.ID, date)
	second := book(t, s, doctor.ID, patient.ID, date)
	other := book(t, s, doctor.ID, patient.ID, "2031-01-06")

	assert.Equal(t, 1, first.QueueNumber)
	assert.Equal(t, 2, second.QueueNumber)
	assert.Equal(t, 1, other.QueueNumber)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.EqualValues(t, 1, first.Version)
}

func TestBookConcurrentlyNeverDuplicates(t *testing.T) {
	s, db := setupTestStore(t)
	doctor, patient := seedUsers(t, db)
	date := "2031-01-07"

	const n = 8
	numbers := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appt, err := s.Book(context.Background(), store.BookInput{
				DoctorID: doctor.ID, PatientID: patient.ID, Mode: models.ModeOffline,
				ScheduledTime: time.Now(), QueueDate: date,
			})
			if assert.NoError(t, err) {
				numbers <- appt.QueueNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for q := range numbers {
		assert.False(t, seen[q], "queue number %d assigned twice", q)
		seen[q] = true
	}
}

func TestCancelledNumberIsNotReused(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	date := "2031-01-08"

	book(t, s, doctor.ID, patient.ID, date)
	second := book(t, s, doctor.ID, patient.ID, date)

	change, err := lifecycle.Transition(second, lifecycle.Request{
		Target: models.StatusCancelled,
		Actor:  lifecycle.Actor{ID: patient.ID, Role: models.RolePatient},
		Reason: "conflict at work",
	})
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, store.TransitionInput{
		AppointmentID: second.ID, ExpectedVersion: second.Version, Change: change, At: time.Now(),
		Actor: lifecycle.Actor{ID: patient.ID, Role: models.RolePatient},
	})
	require.NoError(t, err)

	third := book(t, s, doctor.ID, patient.ID, date)
	assert.Equal(t, 3, third.QueueNumber)
}

func TestApplyTransitionDetectsStaleVersion(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	appt := book(t, s, doctor.ID, patient.ID, "2031-01-09")
	actor := lifecycle.Actor{ID: doctor.ID, Role: models.RoleDoctor}

	change, err := lifecycle.Transition(appt, lifecycle.Request{Target: models.StatusConfirmed, Actor: actor})
	require.NoError(t, err)

	notice := messaging.SystemNotice(appt.ID, change.Notice, time.Now())
	updated, err := s.ApplyTransition(ctx, store.TransitionInput{
		AppointmentID: appt.ID, ExpectedVersion: appt.Version, Change: change, Actor: actor, Notice: &notice, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, appt.Version+1, updated.Version)

	_, err = s.ApplyTransition(ctx, store.TransitionInput{
		AppointmentID: appt.ID, ExpectedVersion: appt.Version, Change: change, Actor: actor, At: time.Now(),
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	change.From = models.StatusConfirmed
	_, err = s.ApplyTransition(ctx, store.TransitionInput{
		AppointmentID: uuid.NewString(), ExpectedVersion: 1, Change: change, Actor: actor, At: time.Now(),
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	msgs, err := s.ListMessages(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderSystem, msgs[0].SenderType)
}

func TestStartAndCompleteRecordConsultation(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	appt := book(t, s, doctor.ID, patient.ID, "2031-01-10")
	actor := lifecycle.Actor{ID: doctor.ID, Role: models.RoleDoctor}

	step := func(target models.AppointmentStatus, link string) {
		change, err := lifecycle.Transition(appt, lifecycle.Request{Target: target, Actor: actor, MeetLink: link, Now: time.Now()})
		require.NoError(t, err)
		appt, err = s.ApplyTransition(ctx, store.TransitionInput{
			AppointmentID: appt.ID, ExpectedVersion: appt.Version, Change: change, Actor: actor, At: time.Now(),
		})
		require.NoError(t, err)
	}
	step(models.StatusConfirmed, "")
	step(models.StatusInProgress, "https://meet.example/r1")

	c, err := s.GetConsultation(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConsultationInProgress, c.Status)
	assert.Equal(t, "https://meet.example/r1", appt.MeetLink)

	step(models.StatusCompleted, "")
	c, err = s.GetConsultation(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConsultationCompleted, c.Status)
	assert.NotNil(t, c.EndedAt)
}

func TestAppendMessageIsIdempotentOnClientKey(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	appt := book(t, s, doctor.ID, patient.ID, "2031-01-11")

	msg := models.Message{AppointmentID: appt.ID, SenderType: models.SenderPatient, SenderID: patient.ID, Content: "hello", ClientKey: "k-1"}
	first, created, err := s.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	second, _, err := s.AppendMessage(ctx, models.Message{AppointmentID: appt.ID, SenderType: models.SenderDoctor, SenderID: doctor.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, first.Seq+1, second.Seq)

	msgs, err := s.ListMessages(ctx, appt.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, _, err = s.AppendMessage(ctx, models.Message{AppointmentID: uuid.NewString(), SenderType: models.SenderDoctor, Content: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRescheduleToAnotherDayTakesNewNumber(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	book(t, s, doctor.ID, patient.ID, "2031-01-13")
	appt := book(t, s, doctor.ID, patient.ID, "2031-01-12")

	moved, err := s.Reschedule(ctx, store.RescheduleInput{
		AppointmentID: appt.ID, ExpectedVersion: appt.Version,
		ScheduledTime: time.Date(2031, 1, 13, 9, 0, 0, 0, time.UTC), QueueDate: "2031-01-13",
		Actor: lifecycle.Actor{ID: patient.ID, Role: models.RolePatient}, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "2031-01-13", moved.QueueDate)
	assert.Equal(t, 2, moved.QueueNumber)

	_, err = s.Reschedule(ctx, store.RescheduleInput{
		AppointmentID: appt.ID, ExpectedVersion: appt.Version,
		ScheduledTime: time.Now(), QueueDate: "2031-01-13", At: time.Now(),
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestDoctorSettingsAndUnavailability(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, _ := seedUsers(t, db)

	none, err := s.GetSettings(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.SaveSettings(ctx, models.DoctorSettings{DoctorID: doctor.ID, ConsultationDurationMins: 20, CustomMeetLink: "https://meet.example/dr"})
	require.NoError(t, err)
	_, err = s.SaveSettings(ctx, models.DoctorSettings{DoctorID: doctor.ID, ConsultationDurationMins: 25})
	require.NoError(t, err)

	got, err := s.GetSettings(ctx, doctor.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 25, got.ConsultationDurationMins)

	now := time.Now().UTC().Truncate(time.Second)
	_, err = s.AddUnavailability(ctx, models.DoctorUnavailability{DoctorID: doctor.ID, StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Hour), Reason: models.ReasonBreak})
	require.NoError(t, err)

	windows, err := s.ListUnavailability(ctx, doctor.ID, now, now.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, windows, 1)

	names, err := s.UserNames(ctx, []string{doctor.ID, uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{doctor.ID: "Ravi Iyer"}, names)
}

func TestConcurrentStartsLeaveOneInProgress(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, db)
	date := "2031-01-20"
	actor := lifecycle.Actor{ID: doctor.ID, Role: models.RoleDoctor}

	move := func(appt models.Appointment, to models.AppointmentStatus) (models.Appointment, error) {
		change, err := lifecycle.Transition(appt, lifecycle.Request{Target: to, Actor: actor, MeetLink: "https://meet.example/r", Now: time.Now()})
		require.NoError(t, err)
		return s.ApplyTransition(ctx, store.TransitionInput{
			AppointmentID: appt.ID, ExpectedVersion: appt.Version, Change: change, Actor: actor, At: time.Now(),
		})
	}

	const n = 4
	appts := make([]models.Appointment, n)
	for i := range appts {
		confirmed, err := move(book(t, s, doctor.ID, patient.ID, date), models.StatusConfirmed)
		require.NoError(t, err)
		appts[i] = confirmed
	}

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, appt := range appts {
		wg.Add(1)
		go func(appt models.Appointment) {
			defer wg.Done()
			_, err := move(appt, models.StatusInProgress)
			errs <- err
		}(appt)
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, started)

	day, err := s.ListByDoctorDate(ctx, doctor.ID, date)
	require.NoError(t, err)
	serving := 0
	for _, a := range day {
		if a.Status == models.StatusInProgress {
			serving++
		}
	}
	assert.Equal(t, 1, serving)
}
