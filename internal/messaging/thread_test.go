package messaging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/models"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func appointment(status models.AppointmentStatus) models.Appointment {
	a := models.Appointment{Status: status, DoctorID: "doc-1", PatientID: "pat-1"}
	a.ID = "appt-1"
	return a
}

func TestValidateRejectsBlankContent(t *testing.T) {
	p := Policy{AllowAfterCompletion: true}
	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := p.Validate(appointment(models.StatusConfirmed), Draft{SenderType: models.SenderPatient, Content: content}, now)
		assert.ErrorIs(t, err, apperrors.ErrEmptyContent, "%q", content)
	}
}

func TestValidateTrimsAndStamps(t *testing.T) {
	p := Policy{AllowAfterCompletion: true}
	msg, err := p.Validate(appointment(models.StatusPending), Draft{
		SenderType: models.SenderDoctor,
		SenderID:   "doc-1",
		Content:    "  please join at 10  ",
		ClientKey:  " k-1 ",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "appt-1", msg.AppointmentID)
	assert.Equal(t, "please join at 10", msg.Content)
	assert.Equal(t, "k-1", msg.ClientKey)
	assert.Equal(t, models.SenderDoctor, msg.SenderType)
	assert.Equal(t, now, msg.CreatedAt)
}

func TestValidateRejectsSystemSender(t *testing.T) {
	_, err := Policy{}.Validate(appointment(models.StatusPending), Draft{SenderType: models.SenderSystem, Content: "hi"}, now)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestValidateRejectsOversizedContent(t *testing.T) {
	_, err := Policy{}.Validate(appointment(models.StatusPending), Draft{
		SenderType: models.SenderPatient,
		Content:    strings.Repeat("a", MaxContentLength+1),
	}, now)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestThreadClosedPolicy(t *testing.T) {
	closed := Policy{AllowAfterCompletion: false}
	open := Policy{AllowAfterCompletion: true}

	for _, s := range []models.AppointmentStatus{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow} {
		_, err := closed.Validate(appointment(s), Draft{SenderType: models.SenderPatient, Content: "thanks"}, now)
		assert.ErrorIs(t, err, apperrors.ErrThreadClosed, s)

		_, err = open.Validate(appointment(s), Draft{SenderType: models.SenderPatient, Content: "thanks"}, now)
		assert.NoError(t, err, s)
	}

	_, err := closed.Validate(appointment(models.StatusInProgress), Draft{SenderType: models.SenderPatient, Content: "hi"}, now)
	assert.NoError(t, err)
}

func TestSystemNotice(t *testing.T) {
	msg := SystemNotice("appt-1", "Appointment rescheduled.", now)
	assert.Equal(t, models.SenderSystem, msg.SenderType)
	assert.Empty(t, msg.SenderID)
	assert.Equal(t, "appt-1", msg.AppointmentID)
}

func TestSenderFor(t *testing.T) {
	s, ok := SenderFor(models.RoleDoctor)
	assert.True(t, ok)
	assert.Equal(t, models.SenderDoctor, s)

	s, ok = SenderFor(models.RolePatient)
	assert.True(t, ok)
	assert.Equal(t, models.SenderPatient, s)

	_, ok = SenderFor(models.RoleAdmin)
	assert.False(t, ok)
}

func TestSortByTimeThenSeq(t *testing.T) {
	msgs := []models.Message{
		{ID: "c", CreatedAt: now.Add(time.Second), Seq: 3},
		{ID: "b", CreatedAt: now, Seq: 2},
		{ID: "a", CreatedAt: now, Seq: 1},
		{ID: "d", CreatedAt: now.Add(-time.Second), Seq: 4},
	}
	Sort(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}
