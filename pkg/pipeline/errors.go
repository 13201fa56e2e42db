package pipeline

import (
	"errors"
	"fmt"
)

// PhaseNotFoundError is returned when an operation references a phase that
// has not been registered in the pipeline.
type PhaseNotFoundError struct {
	Phase string
}

func (e *PhaseNotFoundError) Error() string {
	return fmt.Sprintf("pipeline: phase %q is not registered", e.Phase)
}

// IsPhaseNotFound returns true if the error is a missing-phase error.
func IsPhaseNotFound(err error) bool {
	var pe *PhaseNotFoundError
	return errors.As(err, &pe)
}

// CancelledError is returned when an execution observes context cancellation
// between handlers. Cause carries the cancellation cause from the context.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("pipeline: execution cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// IsCancelled returns true if the error is a pipeline cancellation.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
