// Package exception provides the error types used across the medley pipeline engine.
// It standardizes the errors that occur during stage execution, allowing them to be
// categorized by kind and classified as retryable or permanent.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorKind classifies a PipelineError.
type ErrorKind string

const (
	// KindSourceUnavailable indicates that a source location could not be reached.
	// Transient: safe to retry once the location becomes reachable again.
	KindSourceUnavailable ErrorKind = "SOURCE_UNAVAILABLE"
	// KindCommitFailed indicates that a store transaction aborted.
	// Transient: no partial state was persisted, safe to retry immediately.
	KindCommitFailed ErrorKind = "COMMIT_FAILED"
	// KindSchemaConflict indicates that a fixed-schema stage received a typed column
	// absent from its declared target schema. Permanent until an operator fixes the
	// schema or the policy.
	KindSchemaConflict ErrorKind = "SCHEMA_CONFLICT"
	// KindCastFailure indicates a value that could not be cast under the declared type.
	// Cast failures are routed to the rescue bucket per row and must never abort a
	// batch; the kind exists so rescue entries can carry a uniform reason.
	KindCastFailure ErrorKind = "CAST_FAILURE"
	// KindConfig indicates an invalid pipeline or engine configuration.
	KindConfig ErrorKind = "CONFIG"
	// KindInternal indicates an unexpected engine failure.
	KindInternal ErrorKind = "INTERNAL"
)

// PipelineError is the error type produced by pipeline components.
// It holds the stage where the error occurred, its kind, a message,
// the wrapped original error, and whether it is retryable.
type PipelineError struct {
	// Stage is the name of the stage (or component) where the error occurred.
	Stage string
	// Kind classifies the error.
	Kind ErrorKind
	// Message is a concise description of the error.
	Message string
	// Err is the wrapped original error.
	Err error
	// retryable indicates whether a retry may succeed without operator intervention.
	retryable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// New creates a new PipelineError instance.
func New(stage string, kind ErrorKind, message string, err error) *PipelineError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &PipelineError{
		Stage:      stage,
		Kind:       kind,
		Message:    message,
		Err:        err,
		retryable:  kind == KindSourceUnavailable || kind == KindCommitFailed,
		StackTrace: string(buf[:n]),
	}
}

// Newf creates a new PipelineError using a format string.
// An optional wrapped error is extracted from the end of the variadic arguments.
//
// Example:
//
//	Newf("users_bronze", KindCommitFailed, "append to %s aborted", table, txErr)
func Newf(stage string, kind ErrorKind, format string, a ...interface{}) *PipelineError {
	var original error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			original = err
			args = args[:len(args)-1]
		}
	}
	return New(stage, kind, fmt.Sprintf(format, args...), original)
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Stage, e.Kind, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error is retryable.
func (e *PipelineError) IsRetryable() bool {
	return e.retryable
}

// KindOf extracts the ErrorKind from an error chain.
// Returns KindInternal for errors that are not PipelineErrors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain contains a PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsRetryable reports whether an error is retryable.
// A PipelineError's own flag takes precedence; anything else is treated as permanent.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}

// ExtractMessage extracts the message string from an error.
// For a PipelineError it returns the cleaner Message field.
func ExtractMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
