// errors.go -- Error kinds returned by the Gateway.
//
// Handlers map these to HTTP status codes in responses.go. None of them carry
// internal detail; wrapped store errors stay on the server side of the boundary.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account locked")
	ErrTooManyAttempts        = errors.New("too many attempts")
	ErrCSRFMismatch           = errors.New("csrf token mismatch")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrTransientStore         = errors.New("transient store failure")
	ErrPasswordChangeRequired = errors.New("password change required")
)

// RateLimitError reports a rate limiter rejection and when to retry.
// errors.Is(err, ErrTooManyAttempts) matches it.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return "too many attempts, retry at " + e.ResetAt.UTC().Format(time.RFC3339)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrTooManyAttempts }

// RetryAfter is the whole seconds until ResetAt, at least 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	secs := int(e.ResetAt.Sub(now).Seconds() + 0.999)
	return max(secs, 1)
}

// PolicyError lists why a new password was rejected.
type PolicyError struct {
	Failures []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Failures, "; ")
}

// transient wraps a store error so callers can match ErrTransientStore.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
}
