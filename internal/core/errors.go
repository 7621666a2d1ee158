package core

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds carried on jobs and surfaced to the delivery collaborator.
const (
	ErrKindQuotaExceeded       = "quota_exceeded"
	ErrKindTransientService    = "transient_service_error"
	ErrKindNonRetriableService = "non_retriable_service_error"
	ErrKindStoreUnavailable    = "store_unavailable"
	ErrKindExhausted           = "exhausted"
	ErrKindCancelled           = "cancelled"
	ErrKindInvalidRequest      = "invalid_request"
	ErrKindValidation          = "validation_error"
	ErrKindNotFound            = "not_found"
	ErrKindConflict            = "conflict"
	ErrKindInternal            = "internal_error"
)

// PipelineError is the structured error type used across the pipeline.
// Retryable distinguishes errors that re-enter the queue from errors that
// terminate the job immediately.
type PipelineError struct {
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// ErrorKind extracts the pipeline error kind from an arbitrary error,
// defaulting to internal_error for anything unclassified.
func ErrorKind(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindInternal
}

// IsRetryable reports whether an error should re-enter the queue. Errors
// without classification are treated as retriable up to the job's attempt
// budget, matching the worker's "uncaught failure" rule.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

func NewQuotaExceededError(retryAfter time.Duration) *PipelineError {
	return &PipelineError{
		Kind:       ErrKindQuotaExceeded,
		Message:    "quota exceeded for actor",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func NewTransientServiceError(message string) *PipelineError {
	return &PipelineError{
		Kind:      ErrKindTransientService,
		Message:   message,
		Retryable: true,
	}
}

func NewNonRetriableServiceError(message string) *PipelineError {
	return &PipelineError{
		Kind:      ErrKindNonRetriableService,
		Message:   message,
		Retryable: false,
	}
}

func NewStoreUnavailableError(store string, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrKindStoreUnavailable,
		Message:   fmt.Sprintf("%s unreachable: %v", store, cause),
		Retryable: true,
		Details:   map[string]any{"store": store},
	}
}

func NewValidationError(message string, details map[string]any) *PipelineError {
	return &PipelineError{
		Kind:    ErrKindValidation,
		Message: message,
		Details: details,
	}
}

func NewNotFoundError(resourceType, resourceID string) *PipelineError {
	return &PipelineError{
		Kind:    ErrKindNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

func NewConflictError(message string, details map[string]any) *PipelineError {
	return &PipelineError{
		Kind:    ErrKindConflict,
		Message: message,
		Details: details,
	}
}

func NewInternalError(message string) *PipelineError {
	return &PipelineError{
		Kind:      ErrKindInternal,
		Message:   message,
		Retryable: true,
	}
}
