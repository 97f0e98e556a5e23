// Package conversation picks the appointment that anchors a doctor/patient
// conversation and derives how the counterpart is named.
package conversation

import (
	"sort"
	"strings"

	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
)

// Conversation is the derived view of one doctor/patient pair.
type Conversation struct {
	DoctorID            string             `json:"doctorId"`
	PatientID           string             `json:"patientId"`
	CounterpartID       string             `json:"counterpartId"`
	AnchorAppointmentID string             `json:"anchorAppointmentId"`
	Anchor              models.Appointment `json:"anchor"`
	DisplayName         string             `json:"displayName"`
	Active              bool               `json:"active"`
	Appointments        int                `json:"appointments"`
}

// Prefer returns whichever of a and b should anchor the conversation.
// An active appointment beats an inactive one; otherwise the later scheduled
// time wins; equal times fall back to the smaller id. The order is total, so
// folding Prefer over any permutation gives the same answer.
func Prefer(a, b models.Appointment) models.Appointment {
	aActive, bActive := lifecycle.IsActive(a.Status), lifecycle.IsActive(b.Status)
	if aActive != bActive {
		if aActive {
			return a
		}
		return b
	}
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		if a.ScheduledTime.After(b.ScheduledTime) {
			return a
		}
		return b
	}
	if a.ID <= b.ID {
		return a
	}
	return b
}

// Resolve folds Prefer over appts. It reports false when appts is empty.
func Resolve(appts []models.Appointment) (models.Appointment, bool) {
	if len(appts) == 0 {
		return models.Appointment{}, false
	}
	best := appts[0]
	for _, a := range appts[1:] {
		best = Prefer(best, a)
	}
	return best, true
}

// DisplayName names a patient. The account name is authoritative; when the
// name captured at booking differs it is shown alongside it.
func DisplayName(accountName, appointmentName string) string {
	accountName = strings.TrimSpace(accountName)
	appointmentName = strings.TrimSpace(appointmentName)
	switch {
	case accountName == "":
		return appointmentName
	case appointmentName == "" || strings.EqualFold(accountName, appointmentName):
		return accountName
	default:
		return accountName + " (" + appointmentName + ")"
	}
}

// Build resolves the conversation between doctorID and patientID. Only
// appointments between exactly that pair are considered. viewerRole decides
// which side is the counterpart; counterpartName is the counterpart's
// account name.
func Build(doctorID, patientID string, viewerRole models.Role, appts []models.Appointment, counterpartName string) (Conversation, bool) {
	var pair []models.Appointment
	for _, a := range appts {
		if a.DoctorID == doctorID && a.PatientID == patientID {
			pair = append(pair, a)
		}
	}
	anchor, ok := Resolve(pair)
	if !ok {
		return Conversation{}, false
	}

	c := Conversation{
		DoctorID:            doctorID,
		PatientID:           patientID,
		AnchorAppointmentID: anchor.ID,
		Anchor:              anchor,
		Active:              lifecycle.IsActive(anchor.Status),
		Appointments:        len(pair),
	}
	if viewerRole == models.RolePatient {
		c.CounterpartID = doctorID
		c.DisplayName = strings.TrimSpace(counterpartName)
	} else {
		c.CounterpartID = patientID
		c.DisplayName = DisplayName(counterpartName, anchor.PatientName)
	}
	return c, true
}

// Inbox lists one conversation per counterpart of userID, active ones first
// and then by anchor time, most recent first. names maps user ids to account
// names.
func Inbox(userID string, role models.Role, appts []models.Appointment, names map[string]string) []Conversation {
	groups := make(map[string][]models.Appointment)
	for _, a := range appts {
		var counterpart string
		switch {
		case role == models.RolePatient && a.PatientID == userID:
			counterpart = a.DoctorID
		case role != models.RolePatient && a.DoctorID == userID:
			counterpart = a.PatientID
		default:
			continue
		}
		groups[counterpart] = append(groups[counterpart], a)
	}

	out := make([]Conversation, 0, len(groups))
	for counterpart, list := range groups {
		doctorID, patientID := userID, counterpart
		if role == models.RolePatient {
			doctorID, patientID = counterpart, userID
		}
		if c, ok := Build(doctorID, patientID, role, list, names[counterpart]); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return Prefer(out[i].Anchor, out[j].Anchor).ID == out[i].Anchor.ID
	})
	return out
}
