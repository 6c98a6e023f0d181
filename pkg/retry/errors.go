package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned by New for malformed policy parameters.
	ErrInvalidConfiguration = errors.New("invalid retry configuration")

	// ErrRetryExhausted matches every ExhaustedError via errors.Is.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ExhaustedError is returned once every attempt of a policy has failed.
// It carries the last underlying failure.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry policy %s: %s after %d attempts: %v",
		e.Name, ErrRetryExhausted, e.Attempts, e.Err)
}

// Unwrap returns the last observed failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRetryExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}
