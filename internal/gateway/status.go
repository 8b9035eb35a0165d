package gateway

import (
	"errors"
	"fmt"
)

// Request status codes returned by gateway calls.
const (
	StatusOK          = 0
	StatusNetwork     = -1 // network failure
	StatusQueueFull   = -2 // too many unprocessed requests
	StatusRateLimited = -3 // requests per second exceeded

	// StatusUnconfirmed means the request left this process but no answer
	// came back. It may or may not have taken effect.
	StatusUnconfirmed = -4
)

// StatusError is a non-zero status returned by a gateway request.
type StatusError struct {
	Op         string // "subscribe", "unsubscribe", "submit"
	Instrument string
	Code       int
}

func (e *StatusError) Error() string {
	if e.Instrument == "" {
		return fmt.Sprintf("gateway %s: status %d (%s)", e.Op, e.Code, StatusText(e.Code))
	}
	return fmt.Sprintf("gateway %s %s: status %d (%s)", e.Op, e.Instrument, e.Code, StatusText(e.Code))
}

// IsRetryable returns true for transient statuses.
func (e *StatusError) IsRetryable() bool {
	switch e.Code {
	case StatusNetwork, StatusQueueFull, StatusRateLimited:
		return true
	}
	return false
}

// IsUnconfirmed returns true when the request may have taken effect.
func (e *StatusError) IsUnconfirmed() bool {
	return e.Code == StatusUnconfirmed
}

// Check returns nil for StatusOK, otherwise a *StatusError.
func Check(op, instrument string, code int) error {
	if code == StatusOK {
		return nil
	}
	return &StatusError{Op: op, Instrument: instrument, Code: code}
}

// Code extracts the status code from err: 0 for nil, the wrapped code for a
// StatusError, StatusNetwork for anything else.
func Code(err error) int {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusNetwork
}

// StatusText returns a short description of a status code.
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusNetwork:
		return "network failure"
	case StatusQueueFull:
		return "request queue full"
	case StatusRateLimited:
		return "rate limited"
	case StatusUnconfirmed:
		return "outcome unknown"
	}
	return "rejected"
}
