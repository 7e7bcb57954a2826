package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live socket
	// channel and there is none. Callers get it immediately, never after
	// the call timeout.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout is returned when a correlated call receives no response
	// within the call timeout. The server-side effect is not cancelled.
	ErrTimeout = errors.New("request timed out")

	// ErrNotFound marks a missing user or conversation. Tolerated by
	// callers that can substitute a sentinel, fatal for the rest.
	ErrNotFound = errors.New("not found")
)

// ServerError carries an explicit failure payload (success=false) from a
// correlated call.
type ServerError struct {
	Op      string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server rejected request", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// NetworkError wraps a REST request failure (transport error or
// unexpected status).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
