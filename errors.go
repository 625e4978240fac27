package coastline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeStructural marks a malformed candidate document or an unknown
	// tool kind. Structural errors are fed back to the proposal step as
	// corrective messages rather than failing the thread.
	ErrorTypeStructural = "structural"

	// ErrorTypeTransient marks failures of external services that are worth
	// retrying: timeouts, rate limits, 5xx responses.
	ErrorTypeTransient = "transient"

	// ErrorTypePersistence marks checkpoint or session store failures. These
	// fail the step immediately; retrying against a broken store risks
	// corrupting the thread.
	ErrorTypePersistence = "persistence"

	// ErrorTypeClientProtocol marks a caller mistake: an unknown decision
	// action, a decision on a session that is not awaiting one, an
	// out-of-range setting. These are rejected without touching thread state.
	ErrorTypeClientProtocol = "client_protocol"

	// ErrorTypeFatal marks an error that must never be retried. Unknown
	// errors default to transient so they get retried; an error known to be
	// hopeless should carry this type explicitly.
	ErrorTypeFatal = "fatal"
)

// PlanError is a classified error. It supports Go's error wrapping patterns
// with Unwrap(). Recoverable is part of the external contract: every failure
// surfaced to a caller carries it alongside the human-readable cause.
type PlanError struct {
	Type        string `json:"type"`
	Cause       string `json:"cause"`
	Recoverable bool   `json:"recoverable"`
	Details     any    `json:"details,omitempty"`
	Wrapped     error  `json:"-"`
}

// Error implements the error interface
func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *PlanError) Unwrap() error {
	return e.Wrapped
}

// NewPlanError creates a PlanError with the specified type and cause.
func NewPlanError(errorType, cause string) *PlanError {
	return &PlanError{
		Type:        errorType,
		Cause:       cause,
		Recoverable: recoverableType(errorType),
	}
}

// WrapError wraps an existing error with a classification.
func WrapError(errorType string, err error) *PlanError {
	return &PlanError{
		Type:        errorType,
		Cause:       err.Error(),
		Recoverable: recoverableType(errorType),
		Wrapped:     err,
	}
}

// recoverableType maps a classification to the recoverability flag. Only
// transient failures are worth retrying.
func recoverableType(errorType string) bool {
	return errorType == ErrorTypeTransient
}

// ClassifyError classifies a regular error into a PlanError. Errors already
// carrying a classification pass through; context timeouts and rate limit
// errors become transient; everything else defaults to transient so it gets
// retried unless marked fatal at the source.
func ClassifyError(err error) *PlanError {
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return planErr
	}
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return WrapError(ErrorTypeTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(ErrorTypeFatal, err)
	}
	if errors.Is(err, ErrThreadDeleted) {
		return WrapError(ErrorTypePersistence, err)
	}
	return WrapError(ErrorTypeTransient, err)
}

// IsRetryable reports whether a step-level automatic retry is appropriate for
// the error. Only transient failures qualify.
func IsRetryable(err error) bool {
	return ClassifyError(err).Type == ErrorTypeTransient
}

// MatchesErrorType checks whether an error matches a type pattern.
func MatchesErrorType(err error, errorType string) bool {
	return ClassifyError(err).Type == errorType
}
