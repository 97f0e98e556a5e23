package models

// AuditEntry records a state-changing action on an appointment.
type AuditEntry struct {
	BaseModel
	Action        string `gorm:"size:50;not null" json:"action"`
	ActorRole     Role   `gorm:"size:20" json:"actorRole"`
	ActorID       string `gorm:"size:36" json:"actorId"`
	AppointmentID string `gorm:"size:36;index" json:"appointmentId"`
	Detail        string `gorm:"size:500" json:"detail,omitempty"`
}
