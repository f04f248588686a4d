package agent

import (
	"errors"
	"fmt"
)

// ObservationError is an expected, recoverable failure of the observer
// (timeout, login rejected, page layout changed). It drives backoff.
type ObservationError struct {
	Err error
}

func (e *ObservationError) Error() string { return "observation failed: " + e.Err.Error() }
func (e *ObservationError) Unwrap() error { return e.Err }

// UnexpectedError is a panic recovered at the cycle boundary.
type UnexpectedError struct {
	Stage State
	Value any
	Stack string
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected panic while %s: %v", e.Stage, e.Value)
}

// failureEntry is the text appended to the failure log.
func failureEntry(err error) string {
	var ue *UnexpectedError
	if errors.As(err, &ue) {
		return "unexpected: " + fmt.Sprint(ue.Value)
	}
	var oe *ObservationError
	if errors.As(err, &oe) {
		return oe.Err.Error()
	}
	return err.Error()
}
