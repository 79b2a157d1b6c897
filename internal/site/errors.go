package site

import (
	"fmt"
	"strings"
)

// TransportError wraps network-level failures (dial, TLS, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a login rejection. Fatal to a run.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return fmt.Sprintf("login rejected: %s", e.Message) }

// QueryError is a non-success reply to a read-only call.
type QueryError struct {
	Op      string
	Message string
}

func (e *QueryError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Message) }

// ConflictError means the slot was taken between query and book.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("slot taken: %s", e.Message) }

// BookingError is any other non-success reply to add-booking.
type BookingError struct {
	Message string
}

func (e *BookingError) Error() string { return fmt.Sprintf("booking failed: %s", e.Message) }

// CancelError is a non-success reply to cancel-booking.
type CancelError struct {
	Message string
}

func (e *CancelError) Error() string { return fmt.Sprintf("cancel failed: %s", e.Message) }

// The site reports a lost race with another client only through its
// human-readable message, so classification is by marker substring.
var conflictMarkers = []string{
	"no longer available",
	"fully booked",
	"already been booked",
	"no spaces",
}

func isConflictMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range conflictMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
