package queue

import (
	"time"

	"consultation-queue-server/internal/models"
)

// DoctorStatus is shown to waiting patients.
type DoctorStatus string

const (
	DoctorAvailable   DoctorStatus = "available"
	DoctorUnavailable DoctorStatus = "unavailable"
)

// Settings are the effective queue parameters for one doctor.
type Settings struct {
	AvgConsultationMinutes int
	WaitingRoomThreshold   int
}

// Resolve applies the doctor's overrides on top of the clinic defaults.
func Resolve(defaults Settings, doctor *models.DoctorSettings) Settings {
	s := defaults
	if s.AvgConsultationMinutes <= 0 {
		s.AvgConsultationMinutes = DefaultAvgConsultationMinutes
	}
	if doctor == nil {
		return s
	}
	if doctor.ConsultationDurationMins > 0 {
		s.AvgConsultationMinutes = doctor.ConsultationDurationMins
	}
	if doctor.WaitingRoomThreshold != nil && *doctor.WaitingRoomThreshold >= 0 {
		s.WaitingRoomThreshold = *doctor.WaitingRoomThreshold
	}
	return s
}

// Position is a patient's derived view of the queue. It is recomputed on
// every read and never stored.
type Position struct {
	AppointmentID          string                   `json:"appointmentId"`
	PatientID              string                   `json:"patientId"`
	QueueDate              string                   `json:"queueDate"`
	QueueNumber            int                      `json:"queueNumber"`
	CurrentServing         int                      `json:"currentServing"`
	Ahead                  int                      `json:"ahead"`
	EstimatedWaitMinutes   int                      `json:"estimatedWaitMinutes"`
	CanEnterWaitingRoom    bool                     `json:"canEnterWaitingRoom"`
	IsYourTurn             bool                     `json:"isYourTurn"`
	AppointmentStatus      models.AppointmentStatus `json:"appointmentStatus"`
	DoctorStatus           DoctorStatus             `json:"doctorStatus"`
	DoctorUnavailableUntil *time.Time               `json:"doctorUnavailableUntil,omitempty"`
	UnavailabilityReason   string                   `json:"unavailabilityReason,omitempty"`
	UnavailabilityMessage  string                   `json:"unavailabilityMessage,omitempty"`
	MeetLink               string                   `json:"meetLink,omitempty"`
	ConsultationStatus     string                   `json:"consultationStatus"`
}

// Compute derives the position of appt from the doctor's snapshot for the
// appointment's queue date. away is the unavailability window covering now,
// if any.
func Compute(appt models.Appointment, snap Snapshot, s Settings, away *models.DoctorUnavailability) Position {
	ahead := Ahead(appt.QueueNumber, snap.CurrentServing)
	p := Position{
		AppointmentID:        appt.ID,
		PatientID:            appt.PatientID,
		QueueDate:            appt.QueueDate,
		QueueNumber:          appt.QueueNumber,
		CurrentServing:       snap.CurrentServing,
		Ahead:                ahead,
		EstimatedWaitMinutes: EstimatedWait(ahead, s.AvgConsultationMinutes),
		CanEnterWaitingRoom:  CanEnterWaitingRoom(ahead, s.WaitingRoomThreshold),
		IsYourTurn:           IsYourTurn(appt.QueueNumber, snap.CurrentServing),
		AppointmentStatus:    appt.Status,
		DoctorStatus:         DoctorAvailable,
		ConsultationStatus:   consultationStatus(appt, snap.CurrentServing),
	}
	if appt.Mode == models.ModeOnline && appt.Status == models.StatusInProgress {
		p.MeetLink = appt.MeetLink
	}
	if away != nil {
		until := away.EndTime
		p.DoctorStatus = DoctorUnavailable
		p.DoctorUnavailableUntil = &until
		p.UnavailabilityReason = string(away.Reason)
		p.UnavailabilityMessage = away.CustomMessage
	}
	// Finished appointments no longer wait for anything.
	if !Occupies(appt.Status) {
		p.Ahead = 0
		p.EstimatedWaitMinutes = 0
		p.CanEnterWaitingRoom = false
		p.IsYourTurn = false
	}
	return p
}

func consultationStatus(appt models.Appointment, serving int) string {
	switch appt.Status {
	case models.StatusInProgress:
		return "in_consultation"
	case models.StatusCompleted:
		return "completed"
	case models.StatusCancelled, models.StatusNoShow:
		return "closed"
	}
	if appt.PatientJoinedAt != nil {
		return "patient_waiting"
	}
	if serving == 0 {
		return "not_started"
	}
	return "waiting"
}

// ActiveUnavailability returns the window covering now, if any. When windows
// overlap the one ending last wins.
func ActiveUnavailability(windows []models.DoctorUnavailability, now time.Time) *models.DoctorUnavailability {
	var best *models.DoctorUnavailability
	for i := range windows {
		w := windows[i]
		if !w.Covers(now) {
			continue
		}
		if best == nil || w.EndTime.After(best.EndTime) {
			best = &w
		}
	}
	return best
}

// Stats summarizes a doctor's day.
type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Remaining  int `json:"remaining"`
	NoShows    int `json:"noShows"`
	Cancelled  int `json:"cancelled"`
}

// Board is the doctor's view of one day.
type Board struct {
	Date           string               `json:"date"`
	Appointments   []models.Appointment `json:"appointments"`
	Current        *models.Appointment  `json:"current,omitempty"`
	CurrentServing int                  `json:"currentServing"`
	Stats          Stats                `json:"stats"`
}

// BuildBoard lists every appointment of the day ordered by queue number,
// including closed ones, and counts them.
func BuildBoard(appts []models.Appointment, date string) (Board, error) {
	snap, err := Build(appts, date)
	if err != nil {
		return Board{}, err
	}

	board := Board{Date: date, CurrentServing: snap.CurrentServing, Appointments: []models.Appointment{}}
	for _, a := range appts {
		if a.QueueDate != date {
			continue
		}
		board.Appointments = append(board.Appointments, a)
		board.Stats.Total++
		switch a.Status {
		case models.StatusCompleted:
			board.Stats.Completed++
		case models.StatusInProgress:
			board.Stats.InProgress++
		case models.StatusPending, models.StatusConfirmed:
			board.Stats.Remaining++
		case models.StatusNoShow:
			board.Stats.NoShows++
		case models.StatusCancelled:
			board.Stats.Cancelled++
		}
	}
	sortByQueueNumber(board.Appointments)
	for i := range board.Appointments {
		if board.Appointments[i].Status == models.StatusInProgress {
			board.Current = &board.Appointments[i]
		}
	}
	return board, nil
}
