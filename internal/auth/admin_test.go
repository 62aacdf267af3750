// admin_test.go

// unit tests for administrative Gateway operations.
package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

func TestInvalidateAllSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes only the target's sessions", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		mustLogin(t, gw, "alice", testPassword)
		mustLogin(t, gw, "alice", testPassword)
		adminSess := mustLogin(t, gw, "root", testPassword)

		n, err := gw.InvalidateAllSessions(ctx, admin.ID, alice.ID)
		if err != nil {
			t.Fatalf("InvalidateAllSessions: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 revoked, got %d", n)
		}
		if ms.SessionCount(alice.ID) != 0 {
			t.Error("target sessions should be gone")
		}
		if active, _ := gw.ResolveSession(ctx, adminSess.CookieValue); active == nil {
			t.Error("admin session should survive")
		}

		events := ms.EventsWithAction(ActionSessionsInvalidated)
		if len(events) != 1 || *events[0].ActorID != admin.ID || *events[0].EntityID != alice.ID.String() {
			t.Errorf("unexpected audit events: %+v", events)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		_, err := gw.InvalidateAllSessions(ctx, uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		ms.DeleteAllSessionsErr = errors.New("connection refused")
		if _, err := gw.InvalidateAllSessions(ctx, alice.ID, alice.ID); !errors.Is(err, ErrTransientStore) {
			t.Errorf("expected ErrTransientStore, got %v", err)
		}
	})
}

func TestForcePasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("temporary password routes to the change flow", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		old := mustLogin(t, gw, "alice", testPassword)

		temp, err := gw.ForcePasswordReset(ctx, admin.ID, alice.ID)
		if err != nil {
			t.Fatalf("ForcePasswordReset: %v", err)
		}
		if len([]rune(temp)) != 16 {
			t.Errorf("expected a 16 character password, got %q", temp)
		}

		if active, _ := gw.ResolveSession(ctx, old.CookieValue); active != nil {
			t.Error("existing sessions should be revoked")
		}
		if _, err := gw.Login(ctx, loginReq("alice", testPassword)); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("old password should fail, got %v", err)
		}

		issued := mustLogin(t, gw, "alice", temp)
		if !issued.Account.MustChangePassword {
			t.Error("account should be flagged for a forced change")
		}
		if _, err := gw.RequireSession(ctx, issued.CookieValue, Requirement{Role: store.RoleUser}); !errors.Is(err, ErrPasswordChangeRequired) {
			t.Errorf("expected ErrPasswordChangeRequired, got %v", err)
		}
		if _, err := gw.RequireSession(ctx, issued.CookieValue, Requirement{AllowPasswordChange: true}); err != nil {
			t.Errorf("change-password flow should be reachable, got %v", err)
		}

		for _, e := range ms.Events {
			for k, v := range e.Metadata {
				if s, ok := v.(string); ok && s == temp {
					t.Errorf("audit metadata %q leaks the temporary password", k)
				}
			}
		}
		if n := len(ms.EventsWithAction(ActionUserPasswordReset)); n != 1 {
			t.Errorf("expected 1 user_password_reset event, got %d", n)
		}
	})

	t.Run("clears lockout", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		for range DefaultLockoutPolicy.Threshold {
			gw.Login(ctx, loginReq("alice", "wrong-password"))
		}

		temp, err := gw.ForcePasswordReset(ctx, admin.ID, alice.ID)
		if err != nil {
			t.Fatalf("ForcePasswordReset: %v", err)
		}
		if ms.Account(alice.ID).LockedUntil != nil {
			t.Error("lock should be cleared")
		}
		mustLogin(t, gw, "alice", temp)
	})

	t.Run("unknown account", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		_, err := gw.ForcePasswordReset(ctx, uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update failure leaves sessions alone", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		mustLogin(t, gw, "alice", testPassword)
		ms.UpdatePasswordErr = errors.New("connection refused")

		if _, err := gw.ForcePasswordReset(ctx, alice.ID, alice.ID); !errors.Is(err, ErrTransientStore) {
			t.Errorf("expected ErrTransientStore, got %v", err)
		}
		if ms.SessionCount(alice.ID) != 1 {
			t.Error("sessions should be untouched")
		}
	})
}

func TestClearLockout(t *testing.T) {
	ctx := context.Background()

	t.Run("lifts an active lock", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		for range DefaultLockoutPolicy.Threshold {
			gw.Login(ctx, loginReq("alice", "wrong-password"))
		}
		if _, err := gw.Login(ctx, loginReq("alice", testPassword)); !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("expected ErrAccountLocked, got %v", err)
		}

		if err := gw.ClearLockout(ctx, admin.ID, alice.ID); err != nil {
			t.Fatalf("ClearLockout: %v", err)
		}
		mustLogin(t, gw, "alice", testPassword)

		events := ms.EventsWithAction(ActionLockoutCleared)
		if len(events) != 1 {
			t.Fatalf("expected 1 lockout_cleared event, got %d", len(events))
		}
		if n, _ := events[0].Metadata["failed_attempts"].(int); n != DefaultLockoutPolicy.Threshold {
			t.Errorf("failed_attempts: expected %d, got %v", DefaultLockoutPolicy.Threshold, events[0].Metadata["failed_attempts"])
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		if err := gw.ClearLockout(ctx, uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSetAccountActive(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivation revokes sessions", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		issued := mustLogin(t, gw, "alice", testPassword)

		if err := gw.SetAccountActive(ctx, admin.ID, alice.ID, false); err != nil {
			t.Fatalf("SetAccountActive: %v", err)
		}
		if active, _ := gw.ResolveSession(ctx, issued.CookieValue); active != nil {
			t.Error("session should be revoked")
		}
		if _, err := gw.Login(ctx, loginReq("alice", testPassword)); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("inactive login: expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("activation clears lockout", func(t *testing.T) {
		gw, ms, clock := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)
		for range DefaultLockoutPolicy.Threshold {
			gw.Login(ctx, loginReq("alice", "wrong-password"))
		}
		gw.SetAccountActive(ctx, admin.ID, alice.ID, false)
		clock.Advance(time.Minute)

		if err := gw.SetAccountActive(ctx, admin.ID, alice.ID, true); err != nil {
			t.Fatalf("SetAccountActive: %v", err)
		}
		stored := ms.Account(alice.ID)
		if stored.FailedLoginAttempts != 0 || stored.LockedUntil != nil {
			t.Errorf("lockout should be cleared, got %d / %v", stored.FailedLoginAttempts, stored.LockedUntil)
		}
		mustLogin(t, gw, "alice", testPassword)
	})

	t.Run("cannot deactivate yourself", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		if err := gw.SetAccountActive(ctx, admin.ID, admin.ID, false); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if !ms.Account(admin.ID).IsActive {
			t.Error("account should stay active")
		}
	})
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates once", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)

		created, err := gw.EnsureBootstrapAdmin(ctx, " Admin ", testPassword)
		if err != nil || !created {
			t.Fatalf("first call: created=%v err=%v", created, err)
		}
		created, err = gw.EnsureBootstrapAdmin(ctx, "admin", "another-password")
		if err != nil || created {
			t.Fatalf("second call: created=%v err=%v", created, err)
		}

		issued := mustLogin(t, gw, "admin", testPassword)
		if issued.Account.Role != store.RoleSuperAdmin {
			t.Errorf("role: expected SUPER_ADMIN, got %s", issued.Account.Role)
		}
		if !issued.Account.MustChangePassword {
			t.Error("bootstrap admin should be flagged for a forced change")
		}
		if len(ms.Accounts) != 1 {
			t.Errorf("expected 1 account, got %d", len(ms.Accounts))
		}
	})

	t.Run("lost race is not an error", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		ms.CreateAccountErr = store.ErrDuplicateUsername
		created, err := gw.EnsureBootstrapAdmin(ctx, "admin", testPassword)
		if err != nil || created {
			t.Errorf("expected false, nil; got %v, %v", created, err)
		}
	})

	t.Run("lookup failure is transient", func(t *testing.T) {
		gw, ms, _ := newTestGateway(t)
		ms.GetAccountErr = errors.New("connection refused")
		if _, err := gw.EnsureBootstrapAdmin(ctx, "admin", testPassword); !errors.Is(err, ErrTransientStore) {
			t.Errorf("expected ErrTransientStore, got %v", err)
		}
	})
}
