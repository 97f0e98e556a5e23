// Package queue derives queue positions and wait estimates from a doctor's
// appointments for one calendar day. Every function here is pure.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"consultation-queue-server/internal/models"
)

// DateLayout is the calendar-date key format.
const DateLayout = "2006-01-02"

// Defaults used when neither the clinic config nor the doctor overrides them.
const (
	DefaultAvgConsultationMinutes = 15
	DefaultWaitingRoomThreshold   = 10
)

// ErrMultipleInProgress means the day has more than one appointment in
// progress, which the lifecycle never produces.
var ErrMultipleInProgress = errors.New("more than one appointment in progress")

// DateKey returns the YYYY-MM-DD key of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// SameDay compares calendar dates in loc, not elapsed time.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DateKey(a, loc) == DateKey(b, loc)
}

// DayLabel renders t relative to now: "Today", "Tomorrow", "Yesterday", or
// a short date.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch DateKey(t, loc) {
	case DateKey(now, loc):
		return "Today"
	case DateKey(now.In(loc).AddDate(0, 0, 1), loc):
		return "Tomorrow"
	case DateKey(now.In(loc).AddDate(0, 0, -1), loc):
		return "Yesterday"
	}
	return t.In(loc).Format("Mon, 02 Jan")
}

// Snapshot is one doctor's queue for one day.
type Snapshot struct {
	Date string
	// Entries holds the slot-occupying appointments ordered by queue number.
	Entries []models.Appointment
	// CurrentServing is the queue number in progress, or 0.
	CurrentServing int
}

// Occupies reports whether an appointment in status s holds a queue slot.
func Occupies(s models.AppointmentStatus) bool {
	switch s {
	case models.StatusPending, models.StatusConfirmed, models.StatusInProgress:
		return true
	}
	return false
}

// Build filters appts to date and to slot-occupying statuses and finds the
// current serving number.
func Build(appts []models.Appointment, date string) (Snapshot, error) {
	snap := Snapshot{Date: date}
	inProgress := 0
	for _, a := range appts {
		if a.QueueDate != date || !Occupies(a.Status) {
			continue
		}
		snap.Entries = append(snap.Entries, a)
		if a.Status == models.StatusInProgress {
			inProgress++
			snap.CurrentServing = a.QueueNumber
		}
	}
	if inProgress > 1 {
		return Snapshot{}, fmt.Errorf("%w on %s", ErrMultipleInProgress, date)
	}
	sortByQueueNumber(snap.Entries)
	return snap, nil
}

func sortByQueueNumber(appts []models.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		return appts[i].QueueNumber < appts[j].QueueNumber
	})
}

// Ahead is the number of positions between the doctor and queue number q.
// Before anyone is called, q is compared against an implicit serving number
// of 1.
func Ahead(q, currentServing int) int {
	var n int
	if currentServing == 0 {
		n = q - 1
	} else {
		n = q - currentServing
	}
	if n < 0 {
		return 0
	}
	return n
}

// EstimatedWait is ahead × average consultation length, in minutes.
func EstimatedWait(ahead, avgMinutes int) int {
	if avgMinutes <= 0 {
		avgMinutes = DefaultAvgConsultationMinutes
	}
	return ahead * avgMinutes
}

// CanEnterWaitingRoom gates the waiting-room UI.
func CanEnterWaitingRoom(ahead, threshold int) bool {
	return ahead <= threshold
}

// IsYourTurn is the level signal. TurnDetector turns it into an edge.
func IsYourTurn(q, currentServing int) bool {
	return currentServing > 0 && q <= currentServing
}

// TurnDetector fires once when IsYourTurn goes from false to true.
// The zero value is ready to use. It is not safe for concurrent use.
type TurnDetector struct {
	last bool
}

// Observe records the latest level and reports a rising edge.
func (d *TurnDetector) Observe(isTurn bool) bool {
	fired := isTurn && !d.last
	d.last = isTurn
	return fired
}

// Reset forgets the last observation.
func (d *TurnDetector) Reset() {
	d.last = false
}
