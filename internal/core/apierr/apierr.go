package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
// Callers react by clearing the persisted session and broadcasting a
// forced logout; the request is never retried.
var ErrUnauthorized = errors.New("session expired or invalid")

// Error is a failure response from the Remote Order Store. The Message is
// whatever the backend put in its error body, surfaced verbatim to callers.
type Error struct {
	// Status is the HTTP status code returned by the backend.
	Status int
	// Message is the backend's error description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// FromStatus builds the appropriate error for a non-2xx backend response.
// 401-class responses map to the ErrUnauthorized sentinel so that every
// caller takes the forced-logout path instead of a generic failure.
func FromStatus(status int, message string) error {
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Message: message}
}
