package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTransport is returned when no client exists for the configured transport.
	ErrUnsupportedTransport = errors.New("unsupported transport")
	// ErrAlreadyBegun is delivered when Begin is called more than once.
	ErrAlreadyBegun = errors.New("engine already begun")
)

// StartError reports that a run could not start. No events are emitted for a
// run that fails to start.
type StartError struct {
	Endpoint string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Endpoint, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
