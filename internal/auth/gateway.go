// gateway.go -- Login, logout, password change, and session resolution.
//
// Gateway composes the hasher, token codec, CSRF check, rate limiter, and lockout
// policy over the account/session stores. Handlers translate HTTP into calls here;
// every security decision lives in this file.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// Login input gates. Anything outside them is rejected before hashing.
const (
	maxUsernameRunes = 100
	maxPasswordBytes = 128
)

// AccountStore is the account persistence the gateway needs.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type AccountStore interface {
	CreateAccount(ctx context.Context, username, passwordHash string, role store.Role, mustChangePassword bool) (*store.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*store.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*store.Account, error)

	// RecordLoginFailure must increment atomically; concurrent failures may not be lost.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*store.LockoutState, error)
	ResetLoginFailures(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, mustChangePassword bool) error
	SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error
}

// SessionStore persists session records. It never sees raw tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, accountID uuid.UUID, tokenDigest []byte, expiresAt time.Time) (*store.Session, error)
	// GetSessionByID returns store.ErrNotFound for a missing session.
	GetSessionByID(ctx context.Context, id uuid.UUID) (*store.Session, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteAllAccountSessions(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// RateLimiter is a token bucket per key.
// Satisfied by *store.MemoryRateLimiter and *store.RedisRateLimiter.
type RateLimiter interface {
	Consume(ctx context.Context, key string, limit store.RateLimit) (store.RateLimitResult, error)
}

// AuditSink receives security events. Satisfied by *store.PostgresStore and *audit.QueuedSink.
type AuditSink interface {
	RecordAudit(ctx context.Context, e store.AuditEvent) error
}

// Metrics counts auth outcomes. Satisfied by *metrics.Collector.
type Metrics interface {
	RecordLogin(outcome string, d time.Duration)
	RecordLockout()
	RecordRateLimited(action string)
	RecordCSRFRejected()
	RecordSessionIssued()
	RecordSessionsRevoked(n int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordLogin(string, time.Duration) {}
func (nopMetrics) RecordLockout()                    {}
func (nopMetrics) RecordRateLimited(string)          {}
func (nopMetrics) RecordCSRFRejected()               {}
func (nopMetrics) RecordSessionIssued()              {}
func (nopMetrics) RecordSessionsRevoked(int64)       {}

// DefaultSessionTTL is the absolute session lifetime.
const DefaultSessionTTL = 12 * time.Hour

// DefaultLoginLimit is 5 attempts per minute per client.
var DefaultLoginLimit = store.RateLimit{MaxAttempts: 5, Window: time.Minute}

// Gateway is the entry point for every authentication decision.
// Build it once at startup; it is safe for concurrent use.
type Gateway struct {
	Accounts AccountStore
	Sessions SessionStore
	Limiter  RateLimiter
	Audit    AuditSink
	Metrics  Metrics

	Lockout       LockoutPolicy
	Hasher        PasswordHasher
	Policy        PasswordPolicy
	TempPasswords TempPasswordPolicy
	LoginLimit    store.RateLimit
	SessionTTL    time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	dummyOnce sync.Once
	dummy     string
}

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Username      string
	Password      string
	CSRFPresented string
	CSRFCookie    string
	// RateKey identifies the caller for rate limiting, usually "login:ip:<addr>".
	RateKey   string
	IP        string
	UserAgent string
}

// IssuedSession is a freshly created session. CookieValue holds the raw token
// and exists only in this struct and the response cookie.
type IssuedSession struct {
	Session     *store.Session
	Account     *store.Account
	CookieValue string
}

// ActiveSession is a resolved, verified session and its account.
type ActiveSession struct {
	Session *store.Session
	Account *store.Account
}

// Requirement describes what RequireSession demands beyond a valid session.
type Requirement struct {
	// Role is the minimum role; empty means any authenticated account.
	Role store.Role
	// AllowPasswordChange admits accounts flagged for a forced password change.
	AllowPasswordChange bool
}

// ChangePasswordRequest carries a password change for the caller's own account.
type ChangePasswordRequest struct {
	Session         *ActiveSession
	CurrentPassword string
	NewPassword     string
	CSRFPresented   string
	CSRFCookie      string
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gateway) metrics() Metrics {
	if g == nil || g.Metrics == nil {
		return nopMetrics{}
	}
	return g.Metrics
}

func (g *Gateway) sessionTTL() time.Duration {
	if g.SessionTTL <= 0 {
		return DefaultSessionTTL
	}
	return g.SessionTTL
}

func (g *Gateway) loginLimit() store.RateLimit {
	if g.LoginLimit.MaxAttempts <= 0 || g.LoginLimit.Window <= 0 {
		return DefaultLoginLimit
	}
	return g.LoginLimit
}

// dummyVerify burns the same Argon2id cost as a real verify so that unknown,
// inactive, and locked accounts are indistinguishable by timing.
func (g *Gateway) dummyVerify(password string) {
	g.dummyOnce.Do(func() {
		var err error
		if g.dummy, err = g.Hasher.Hash("dummy-password"); err != nil {
			slog.Error("failed to hash dummy password, using fixed digest", "error", err)
			g.dummy = g.Hasher.fixedDigest()
		}
	})
	g.Hasher.Verify(g.dummy, password)
}

// NormalizeUsername trims and lowercases. Usernames are stored in this form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validLoginInput(username, password string) bool {
	n := utf8.RuneCountInString(username)
	return n >= 1 && n <= maxUsernameRunes && password != "" && len(password) <= maxPasswordBytes
}

// checkRate consumes one token for key. Limiter failures fail closed.
func (g *Gateway) checkRate(ctx context.Context, action, key string, limit store.RateLimit) error {
	if g.Limiter == nil {
		return nil
	}
	res, err := g.Limiter.Consume(ctx, key, limit)
	if err != nil {
		return transient("rate limiter", err)
	}
	if !res.Allowed {
		g.metrics().RecordRateLimited(action)
		return &RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}

// Login authenticates a username and password and issues a session.
//
// Rate limit and CSRF rejections happen before the attempt is evaluated and are not
// audited. Every evaluated attempt records exactly one login_success or login_failed.
// Locked accounts return ErrAccountLocked; transports must render it exactly like
// ErrInvalidCredentials.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) (*IssuedSession, error) {
	if err := g.checkRate(ctx, "login", req.RateKey, g.loginLimit()); err != nil {
		return nil, err
	}
	if err := ValidateCSRFToken(req.CSRFPresented, req.CSRFCookie); err != nil {
		g.metrics().RecordCSRFRejected()
		return nil, err
	}

	start := time.Now()
	outcome := "error"
	defer func() { g.metrics().RecordLogin(outcome, time.Since(start)) }()

	now := g.now()
	username := NormalizeUsername(req.Username)
	fail := func(actor *store.Account, reason string, extra map[string]any) {
		outcome = reason
		g.record(ctx, loginFailedEvent(actor, username, reason, req, extra))
	}
	// A store failure after evaluation began still records the attempt, as reason "error".
	failTransient := func(actor *store.Account, op string, err error) error {
		fail(actor, "error", map[string]any{"error": op})
		return transient(op, err)
	}

	if !validLoginInput(username, req.Password) {
		fail(nil, "malformed", nil)
		return nil, ErrInvalidCredentials
	}

	acct, err := g.Accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		g.dummyVerify(req.Password)
		if errors.Is(err, store.ErrNotFound) {
			fail(nil, "unknown_account", nil)
			return nil, ErrInvalidCredentials
		}
		return nil, failTransient(nil, "loading account", err)
	}
	if !acct.IsActive {
		g.dummyVerify(req.Password)
		fail(acct, "inactive", nil)
		return nil, ErrInvalidCredentials
	}

	lockout := g.Lockout.orDefault()
	switch lockout.State(acct, now) {
	case Locked:
		g.dummyVerify(req.Password)
		fail(acct, "locked", map[string]any{"locked_until": acct.LockedUntil.UTC()})
		return nil, ErrAccountLocked
	case LockExpired:
		if err := g.Accounts.ResetLoginFailures(ctx, acct.ID); err != nil {
			return nil, failTransient(acct, "clearing expired lock", err)
		}
		acct.FailedLoginAttempts = 0
		acct.LockedUntil = nil
	}

	if !g.Hasher.Verify(acct.PasswordHash, req.Password) {
		st, err := g.Accounts.RecordLoginFailure(ctx, acct.ID, lockout.Threshold, lockout.Deadline(now))
		if err != nil {
			fail(acct, "bad_password", map[string]any{"error": "recording login failure"})
			return nil, transient("recording login failure", err)
		}
		lockedNow := st.LockedUntil != nil && now.Before(*st.LockedUntil)
		if lockedNow {
			g.metrics().RecordLockout()
			slog.WarnContext(ctx, "account locked", "account_id", acct.ID, "failed_attempts", st.FailedLoginAttempts)
		}
		fail(acct, "bad_password", map[string]any{"failed_attempts": st.FailedLoginAttempts, "locked_now": lockedNow})
		return nil, ErrInvalidCredentials
	}

	if err := ctx.Err(); err != nil {
		return nil, failTransient(acct, "verifying password", err)
	}
	if acct.FailedLoginAttempts > 0 || acct.LockedUntil != nil {
		if err := g.Accounts.ResetLoginFailures(ctx, acct.ID); err != nil {
			return nil, failTransient(acct, "resetting login failures", err)
		}
		acct.FailedLoginAttempts = 0
		acct.LockedUntil = nil
	}

	issued, err := g.issueSession(ctx, acct)
	if err != nil {
		fail(acct, "error", map[string]any{"error": "issuing session"})
		return nil, err
	}
	outcome = "success"
	g.record(ctx, store.AuditEvent{
		ActorID:    &acct.ID,
		Action:     ActionLoginSuccess,
		EntityType: EntityAuth,
		EntityID:   idString(acct.ID),
		Metadata:   map[string]any{"username": username, "ip": req.IP, "user_agent": req.UserAgent},
	})
	return issued, nil
}

// Logout deletes the caller's session. No session, or an already deleted one, is not an error.
func (g *Gateway) Logout(ctx context.Context, cookieValue, csrfPresented, csrfCookie string) error {
	if err := ValidateCSRFToken(csrfPresented, csrfCookie); err != nil {
		g.metrics().RecordCSRFRejected()
		return err
	}
	active, err := g.ResolveSession(ctx, cookieValue)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	if err := g.Sessions.DeleteSession(ctx, active.Session.ID); err != nil {
		return transient("deleting session", err)
	}
	g.metrics().RecordSessionsRevoked(1)
	g.record(ctx, store.AuditEvent{
		ActorID:    &active.Account.ID,
		Action:     ActionLogout,
		EntityType: EntitySession,
		EntityID:   idString(active.Session.ID),
	})
	return nil
}

// ChangePassword sets a new password for the session's account, revokes every
// session of that account, and issues a fresh one for the caller.
// The current password is required unless the account is flagged for a forced change.
func (g *Gateway) ChangePassword(ctx context.Context, req ChangePasswordRequest) (*IssuedSession, error) {
	if err := ValidateCSRFToken(req.CSRFPresented, req.CSRFCookie); err != nil {
		g.metrics().RecordCSRFRejected()
		return nil, err
	}
	if req.Session == nil || req.Session.Account == nil {
		return nil, ErrUnauthenticated
	}

	acct, err := g.Accounts.GetAccountByID(ctx, req.Session.Account.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, transient("loading account", err)
	}
	if !acct.IsActive {
		return nil, ErrUnauthenticated
	}

	forced := acct.MustChangePassword
	if !forced {
		if req.CurrentPassword == "" || len(req.CurrentPassword) > maxPasswordBytes ||
			!g.Hasher.Verify(acct.PasswordHash, req.CurrentPassword) {
			slog.InfoContext(ctx, "password change rejected", "account_id", acct.ID, "reason", "bad_current_password")
			return nil, ErrInvalidCredentials
		}
	}
	if failures := g.Policy.Validate(req.NewPassword); len(failures) > 0 {
		return nil, &PolicyError{Failures: failures}
	}

	hash, err := g.Hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, err
	}
	// Nothing has been written yet; a request that timed out while hashing leaves no trace.
	if err := ctx.Err(); err != nil {
		return nil, transient("hashing password", err)
	}

	if err := g.Accounts.UpdatePassword(ctx, acct.ID, hash, false); err != nil {
		return nil, transient("updating password", err)
	}
	acct.PasswordHash = hash
	acct.MustChangePassword = false

	revoked, err := g.Sessions.DeleteAllAccountSessions(ctx, acct.ID)
	if err != nil {
		return nil, transient("revoking sessions", err)
	}
	g.metrics().RecordSessionsRevoked(revoked)

	issued, err := g.issueSession(ctx, acct)
	if err != nil {
		return nil, err
	}
	g.record(ctx, store.AuditEvent{
		ActorID:    &acct.ID,
		Action:     ActionPasswordChange,
		EntityType: EntityUser,
		EntityID:   idString(acct.ID),
		Metadata:   map[string]any{"forced": forced, "sessions_revoked": revoked},
	})
	return issued, nil
}

// ResolveSession turns a cookie value into a verified session. It fails closed:
// malformed values, unknown ids, digest mismatches, expired sessions, and missing
// accounts all yield (nil, nil). Only store failures return an error.
func (g *Gateway) ResolveSession(ctx context.Context, cookieValue string) (*ActiveSession, error) {
	id, rawToken, ok := ParseSessionCookie(cookieValue)
	if !ok {
		return nil, nil
	}

	sess, err := g.Sessions.GetSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, transient("loading session", err)
	}
	if !TokenMatchesDigest(rawToken, sess.TokenDigest) {
		// Not deleted: the id alone must not let a caller end someone else's session.
		slog.WarnContext(ctx, "session digest mismatch", "session_id", sess.ID)
		return nil, nil
	}
	if !g.now().Before(sess.ExpiresAt) {
		if err := g.Sessions.DeleteSession(ctx, sess.ID); err != nil {
			slog.WarnContext(ctx, "failed to delete expired session", "session_id", sess.ID, "error", err)
		}
		return nil, nil
	}

	acct, err := g.Accounts.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, transient("loading session account", err)
	}
	return &ActiveSession{Session: sess, Account: acct}, nil
}

// RequireSession resolves the cookie and enforces req.
// Checks run in order: valid session and active account, forced password change, role.
// With ErrPasswordChangeRequired or ErrForbidden the session is returned alongside
// the error, so callers can route or log the account; it must not be trusted as a grant.
func (g *Gateway) RequireSession(ctx context.Context, cookieValue string, req Requirement) (*ActiveSession, error) {
	active, err := g.ResolveSession(ctx, cookieValue)
	if err != nil {
		return nil, err
	}
	if active == nil || !active.Account.IsActive {
		return nil, ErrUnauthenticated
	}
	if active.Account.MustChangePassword && !req.AllowPasswordChange {
		return active, ErrPasswordChangeRequired
	}
	if !active.Account.Role.Satisfies(req.Role) {
		return active, ErrForbidden
	}
	return active, nil
}

// issueSession creates a session record and the cookie value that unlocks it.
func (g *Gateway) issueSession(ctx context.Context, acct *store.Account) (*IssuedSession, error) {
	rawToken, digest, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	sess, err := g.Sessions.CreateSession(ctx, acct.ID, digest, g.now().Add(g.sessionTTL()))
	if err != nil {
		return nil, transient("creating session", err)
	}
	g.metrics().RecordSessionIssued()
	return &IssuedSession{
		Session:     sess,
		Account:     acct,
		CookieValue: FormatSessionCookie(sess.ID, rawToken),
	}, nil
}

// record sends e to the audit sink. Failures are logged and never fail the operation.
func (g *Gateway) record(ctx context.Context, e store.AuditEvent) {
	if g.Audit == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = g.now()
	}
	if err := g.Audit.RecordAudit(context.WithoutCancel(ctx), e); err != nil {
		slog.ErrorContext(ctx, "failed to record audit event", "action", e.Action, "error", err)
	}
}

func loginFailedEvent(acct *store.Account, username, reason string, req LoginRequest, extra map[string]any) store.AuditEvent {
	if utf8.RuneCountInString(username) > maxUsernameRunes {
		username = string([]rune(username)[:maxUsernameRunes])
	}
	meta := map[string]any{
		"username":   username,
		"reason":     reason,
		"ip":         req.IP,
		"user_agent": req.UserAgent,
	}
	for k, v := range extra {
		meta[k] = v
	}
	e := store.AuditEvent{Action: ActionLoginFailed, EntityType: EntityAuth, Metadata: meta}
	if acct != nil {
		e.ActorID = &acct.ID
		e.EntityID = idString(acct.ID)
	}
	return e
}

func idString(id uuid.UUID) *string {
	s := id.String()
	return &s
}
