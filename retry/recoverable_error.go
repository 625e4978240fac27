// Package retry executes functions with exponential backoff, retrying only
// errors marked or recognized as recoverable. The planning engine wraps node
// failures with NewRecoverableError or NewNonRecoverableError based on its
// own classification; the heuristics here cover raw errors from the search
// and generation backends.
package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// RecoverableError lets an error state explicitly whether retrying is
// worthwhile. Wrapped errors are searched with errors.As, so the marker
// survives fmt.Errorf wrapping.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether an error is worth retrying. Errors
// implementing RecoverableError decide for themselves; anything else goes
// through type and message heuristics.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		// Cancellation is intentional, don't retry.
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Temporary() || netErr.Timeout() {
			return true
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	// Message patterns the flight/hotel/generation backends produce for
	// failures that clear up on their own.
	errStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"too many requests",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string {
	return e.err.Error()
}

func (e *recoverableError) IsRecoverable() bool {
	return true
}

func (e *recoverableError) Unwrap() error {
	return e.err
}

// NewRecoverableError marks an error as retryable regardless of heuristics.
func NewRecoverableError(err error) *recoverableError {
	return &recoverableError{err: err}
}

// NonRecoverableError marks an error that must not be retried, such as a
// rejected credential or a malformed request.
type NonRecoverableError struct {
	err error
}

func (e *NonRecoverableError) Error() string {
	return e.err.Error()
}

func (e *NonRecoverableError) IsRecoverable() bool {
	return false
}

func (e *NonRecoverableError) Unwrap() error {
	return e.err
}

// NewNonRecoverableError marks an error as final regardless of heuristics.
func NewNonRecoverableError(err error) *NonRecoverableError {
	return &NonRecoverableError{err: err}
}
