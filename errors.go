package distill

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification
const (
	// ErrorTypeStageFailed indicates a stage's external call failed after
	// retries were exhausted. Unknown errors default to this type so that
	// retry policies apply to them.
	ErrorTypeStageFailed = "stage_failed"

	// ErrorTypeTimeout matches a timeout or context cancellation
	ErrorTypeTimeout = "timeout"

	// ErrorTypeFatal indicates a failure that must not be retried, such as
	// a generated module missing its entry point.
	ErrorTypeFatal = "fatal_error"
)

// PipelineError is a structured error carrying the stage it occurred in.
// It supports Go's error wrapping patterns with Unwrap() method.
type PipelineError struct {
	Stage   Stage  `json:"stage"`
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Type, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// NewPipelineError creates a new PipelineError with the specified type and cause.
func NewPipelineError(stage Stage, errorType, cause string) *PipelineError {
	return &PipelineError{Stage: stage, Type: errorType, Cause: cause}
}

// ClassifyError attempts to classify a regular error into a PipelineError
// attributed to the given stage.
func ClassifyError(stage Stage, err error) *PipelineError {
	var pipelineError *PipelineError
	if errors.As(err, &pipelineError) {
		return pipelineError
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &PipelineError{
			Stage:   stage,
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	return &PipelineError{
		Stage:   stage,
		Type:    ErrorTypeStageFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsFatal reports whether the error is classified as non-retryable.
func IsFatal(err error) bool {
	var pipelineError *PipelineError
	if errors.As(err, &pipelineError) {
		return pipelineError.Type == ErrorTypeFatal
	}
	return false
}
