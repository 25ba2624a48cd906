package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when the provider call fails for any general reason
	ErrGenerationFailed = errors.New("generation failed")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient generation failure")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyResponse is returned when the provider produced no text
	ErrEmptyResponse = errors.New("empty response from language model")

	// ErrRateLimited is returned when the local rate limiter refuses to wait
	ErrRateLimited = errors.New("generation rate limited")
)

// ExecutionError records which provider failed. Its message is the
// underlying error text alone, since that text is what ends up on the task.
type ExecutionError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: unknown error", e.Provider)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
