package conversation

import (
	"errors"
	"fmt"

	"bazibot/internal/models"
)

var (
	// ErrInvalidInput marks rejected input; the reply re-prompts the step
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingChartResult is returned when a node needs a chart the user does not have
	ErrMissingChartResult = errors.New("missing chart result")
	// ErrStorageUnavailable means nothing was committed; the reply is a generic failure
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStaleResult means the session changed during the chart lookup and the result was dropped
	ErrStaleResult = errors.New("stale chart result")
)

// ValidationError describes a rejected input
type ValidationError struct {
	Step   models.Step
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input at %s: %v", e.Step, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
