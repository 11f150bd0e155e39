package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned to callers blocked on the session when the
	// transport ends, and by any operation attempted after that.
	ErrClosed = errors.New("session closed")
	// ErrRunning is returned when an operation requires that no dispatch
	// loop is active (Run while running, NextMessage during Run).
	ErrRunning = errors.New("dispatch loop already running")
)

// HostError is a failure the host explicitly reported for a synchronous
// request. Payload carries the host's error value verbatim; it is kept
// distinct from protocol-level failures (ErrClosed, wire decode errors)
// so callers can branch on the difference.
type HostError struct {
	Payload any
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("host error: %s", e.Message())
}

// Message extracts the human-readable part of the payload. Hosts report
// errors as a [code, message] pair; anything else is formatted as-is.
func (e *HostError) Message() string {
	if pair, ok := e.Payload.([]any); ok && len(pair) == 2 {
		switch m := pair[1].(type) {
		case string:
			return m
		case []byte:
			return string(m)
		}
	}
	if s, ok := e.Payload.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", e.Payload)
}
