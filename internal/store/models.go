// models.go -- Shared domain types for the store package.
// Used by the Postgres store, the rate limiter backends, and the audit sinks.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when an account or session row does not exist.
// Callers use errors.Is to distinguish a true miss from an infrastructure failure.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned by CreateAccount when the username is already taken.
var ErrDuplicateUsername = errors.New("username already exists")

// ErrInvalidRateLimit is returned by a rate limiter given a non-positive capacity or window.
var ErrInvalidRateLimit = errors.New("invalid rate limit")

// Role is the closed set of account roles.
type Role string

const (
	RoleUser       Role = "USER"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole converts a stored or user-supplied string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleSuperAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsPrivileged reports whether the role may manage users, apps, and audit history.
func (r Role) IsPrivileged() bool {
	return r == RoleSuperAdmin
}

// Satisfies reports whether r meets a required role.
// SUPER_ADMIN satisfies every requirement; USER satisfies only USER.
func (r Role) Satisfies(required Role) bool {
	switch required {
	case "":
		return true
	case RoleUser:
		return r == RoleUser || r.IsPrivileged()
	case RoleSuperAdmin:
		return r.IsPrivileged()
	}
	return false
}

// Account represents a row in the accounts table.
// Username is always stored lowercase. LockedUntil is nil when no lock was ever set or it was cleared.
type Account struct {
	ID                  uuid.UUID
	Username            string
	PasswordHash        string
	Role                Role
	IsActive            bool
	MustChangePassword  bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockoutState is the lockout bookkeeping returned after an atomic failure increment.
type LockoutState struct {
	FailedLoginAttempts int
	LockedUntil         *time.Time
}

// Session represents a row in the sessions table.
// TokenDigest is SHA-256 of the raw cookie token; the raw token is never stored.
type Session struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	TokenDigest []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AuditEvent is an append-only record of a security-relevant action.
// ActorID is nil for anonymous events such as a failed login against an unknown username.
// The JSON shape is what the audit queue carries between producer and worker.
type AuditEvent struct {
	ActorID    *uuid.UUID     `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RateLimit defines the token bucket for a rate-limited action.
// MaxAttempts is the bucket capacity; the bucket refills MaxAttempts tokens per Window, linearly.
type RateLimit struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitResult is the outcome of a single Consume call.
// ResetAt is when the next attempt will be allowed if this one was rejected,
// or when the bucket is full again if it was allowed.
type RateLimitResult struct {
	Allowed bool
	ResetAt time.Time
}
