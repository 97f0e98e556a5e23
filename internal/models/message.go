package models

import "time"

// SenderType identifies who wrote a message in an appointment thread.
type SenderType string

const (
	SenderDoctor  SenderType = "doctor"
	SenderPatient SenderType = "patient"
	SenderSystem  SenderType = "system"
)

// Message is a single entry in the thread attached to an appointment
type Message struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AppointmentID string     `gorm:"size:36;not null;index;uniqueIndex:idx_thread_client_key,priority:1" json:"appointmentId"`
	SenderType    SenderType `gorm:"size:10;not null" json:"senderType"`
	SenderID      string     `gorm:"size:36" json:"senderId,omitempty"`
	Content       string     `gorm:"type:text;not null" json:"content"`
	// ClientKey is generated by the sender and makes retried sends idempotent.
	ClientKey string `gorm:"size:64;uniqueIndex:idx_thread_client_key,priority:2" json:"clientKey,omitempty"`
	// Seq breaks ties between messages with the same timestamp.
	Seq       int64     `gorm:"not null;index" json:"seq"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}
