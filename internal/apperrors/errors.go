// Package apperrors defines the failure kinds shared by the lifecycle,
// queue, messaging and store layers, and their HTTP mapping.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("appointment was modified concurrently")
	ErrMissingMeetingLink = errors.New("online consultation requires a meeting link")
	ErrEmptyContent       = errors.New("message content is empty")
	ErrThreadClosed       = errors.New("thread is closed")
	ErrValidation         = errors.New("validation failed")
)

type kind struct {
	err    error
	status int
	code   string
}

var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrMissingMeetingLink, http.StatusUnprocessableEntity, "missing_meeting_link"},
	{ErrEmptyContent, http.StatusBadRequest, "empty_content"},
	{ErrThreadClosed, http.StatusConflict, "thread_closed"},
	{ErrValidation, http.StatusBadRequest, "validation_failed"},
}

// Map returns the HTTP status and machine-readable code for err.
// Unknown errors map to 500/internal_error.
func Map(err error) (int, string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// FromCode is the inverse of Map for clients decoding an error envelope.
// It returns nil for unknown codes.
func FromCode(code string) error {
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}
