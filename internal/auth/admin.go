// admin.go -- Administrative account operations.
//
// Called by account management on behalf of a SUPER_ADMIN. Authorization happens
// before these are reached (RequireSession with RoleSuperAdmin); actorID is only
// recorded in the audit trail.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofrs/uuid/v5"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// Audit actions and entity types.
const (
	ActionLoginSuccess        = "login_success"
	ActionLoginFailed         = "login_failed"
	ActionLogout              = "logout"
	ActionPasswordChange      = "password_change"
	ActionUserPasswordReset   = "user_password_reset"
	ActionSessionsInvalidated = "sessions_invalidated"
	ActionLockoutCleared      = "lockout_cleared"
	ActionUserUpdated         = "user_updated"

	EntityAuth    = "auth"
	EntityUser    = "user"
	EntitySession = "session"
)

// lookupAccount maps a missing account to ErrNotFound and anything else to a transient failure.
func (g *Gateway) lookupAccount(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	acct, err := g.Accounts.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("loading account", err)
	}
	return acct, nil
}

// InvalidateAllSessions deletes every session of accountID and returns how many were removed.
func (g *Gateway) InvalidateAllSessions(ctx context.Context, actorID, accountID uuid.UUID) (int64, error) {
	if _, err := g.lookupAccount(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := g.Sessions.DeleteAllAccountSessions(ctx, accountID)
	if err != nil {
		return 0, transient("revoking sessions", err)
	}
	g.metrics().RecordSessionsRevoked(n)
	g.record(ctx, store.AuditEvent{
		ActorID:    &actorID,
		Action:     ActionSessionsInvalidated,
		EntityType: EntityUser,
		EntityID:   idString(accountID),
		Metadata:   map[string]any{"sessions_revoked": n},
	})
	return n, nil
}

// ForcePasswordReset replaces the password with a generated temporary one, flags the
// account for a forced change, clears any lockout, and revokes its sessions.
// The temporary password is returned once and never stored or logged.
func (g *Gateway) ForcePasswordReset(ctx context.Context, actorID, accountID uuid.UUID) (string, error) {
	acct, err := g.lookupAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	temp, err := g.TempPasswords.Generate(g.Policy)
	if err != nil {
		return "", err
	}
	hash, err := g.Hasher.Hash(temp)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", transient("hashing password", err)
	}

	if err := g.Accounts.UpdatePassword(ctx, acct.ID, hash, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", transient("updating password", err)
	}
	if err := g.Accounts.ResetLoginFailures(ctx, acct.ID); err != nil {
		return "", transient("clearing lockout", err)
	}
	n, err := g.Sessions.DeleteAllAccountSessions(ctx, acct.ID)
	if err != nil {
		return "", transient("revoking sessions", err)
	}
	g.metrics().RecordSessionsRevoked(n)

	g.record(ctx, store.AuditEvent{
		ActorID:    &actorID,
		Action:     ActionUserPasswordReset,
		EntityType: EntityUser,
		EntityID:   idString(acct.ID),
		Metadata:   map[string]any{"username": acct.Username, "sessions_revoked": n},
	})
	return temp, nil
}

// ClearLockout zeroes the failure counter and lifts any lock.
func (g *Gateway) ClearLockout(ctx context.Context, actorID, accountID uuid.UUID) error {
	acct, err := g.lookupAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := g.Accounts.ResetLoginFailures(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return transient("clearing lockout", err)
	}
	g.record(ctx, store.AuditEvent{
		ActorID:    &actorID,
		Action:     ActionLockoutCleared,
		EntityType: EntityUser,
		EntityID:   idString(accountID),
		Metadata:   map[string]any{"failed_attempts": acct.FailedLoginAttempts},
	})
	return nil
}

// SetAccountActive enables or disables an account. Activation also clears lockout
// state; deactivation revokes every session so the change takes effect at once.
func (g *Gateway) SetAccountActive(ctx context.Context, actorID, accountID uuid.UUID, active bool) error {
	if actorID == accountID && !active {
		return ErrForbidden
	}
	if _, err := g.lookupAccount(ctx, accountID); err != nil {
		return err
	}
	if err := g.Accounts.SetAccountActive(ctx, accountID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return transient("updating account", err)
	}
	if !active {
		n, err := g.Sessions.DeleteAllAccountSessions(ctx, accountID)
		if err != nil {
			return transient("revoking sessions", err)
		}
		g.metrics().RecordSessionsRevoked(n)
	}
	g.record(ctx, store.AuditEvent{
		ActorID:    &actorID,
		Action:     ActionUserUpdated,
		EntityType: EntityUser,
		EntityID:   idString(accountID),
		Metadata:   map[string]any{"is_active": active},
	})
	return nil
}

// EnsureBootstrapAdmin creates a SUPER_ADMIN with a forced password change when
// username does not exist yet. Reports whether an account was created.
func (g *Gateway) EnsureBootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	username = NormalizeUsername(username)
	if _, err := g.Accounts.GetAccountByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, transient("loading bootstrap admin", err)
	}

	hash, err := g.Hasher.Hash(password)
	if err != nil {
		return false, err
	}
	acct, err := g.Accounts.CreateAccount(ctx, username, hash, store.RoleSuperAdmin, true)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			// Another replica won the race.
			return false, nil
		}
		return false, transient("creating bootstrap admin", err)
	}
	slog.InfoContext(ctx, "bootstrap admin created", "account_id", acct.ID, "username", acct.Username)
	g.record(ctx, store.AuditEvent{
		Action:     ActionUserUpdated,
		EntityType: EntityUser,
		EntityID:   idString(acct.ID),
		Metadata:   map[string]any{"bootstrap": true, "role": string(acct.Role)},
	})
	return true, nil
}
