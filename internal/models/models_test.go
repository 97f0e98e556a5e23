package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModeFields(t *testing.T) {
	online := Appointment{Mode: ModeOnline, MeetLink: "https://meet.example/abc", HospitalAddress: "12 Main St"}
	online.NormalizeModeFields()
	assert.Equal(t, "https://meet.example/abc", online.MeetLink)
	assert.Empty(t, online.HospitalAddress)

	offline := Appointment{Mode: ModeOffline, MeetLink: "https://meet.example/abc", HospitalAddress: "12 Main St"}
	offline.NormalizeModeFields()
	assert.Empty(t, offline.MeetLink)
	assert.Equal(t, "12 Main St", offline.HospitalAddress)
}

func TestAppointmentStatusValid(t *testing.T) {
	for _, s := range []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, AppointmentStatus("rescheduled").Valid())
	assert.False(t, AppointmentStatus("").Valid())
}

func TestUnavailabilityCovers(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	u := DoctorUnavailability{StartTime: start, EndTime: start.Add(30 * time.Minute)}

	assert.True(t, u.Covers(start))
	assert.True(t, u.Covers(start.Add(29*time.Minute)))
	assert.False(t, u.Covers(start.Add(30*time.Minute)))
	assert.False(t, u.Covers(start.Add(-time.Second)))
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Asha Rao", (&User{FirstName: "Asha", LastName: "Rao"}).FullName())
	assert.Equal(t, "Asha", (&User{FirstName: " Asha "}).FullName())
	assert.Equal(t, "", (&User{}).FullName())
}

func TestBeforeCreateAssignsIDs(t *testing.T) {
	var b BaseModel
	assert.NoError(t, b.BeforeCreate(nil))
	assert.Len(t, b.ID, 36)

	keep := BaseModel{ID: "fixed"}
	assert.NoError(t, keep.BeforeCreate(nil))
	assert.Equal(t, "fixed", keep.ID)

	var m Message
	assert.NoError(t, m.BeforeCreate(nil))
	assert.NotEmpty(t, m.ID)
}
