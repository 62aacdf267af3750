// stores.go
//
// Shared stateful mock of the account, session, and audit stores.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// MockStore implements auth.AccountStore, auth.SessionStore, and auth.AuditSink.
//
// Always stateful...Accounts, Sessions, and Events behave like the real store.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateAccountErr     error
	GetAccountErr        error
	RecordFailureErr     error
	ResetFailuresErr     error
	UpdatePasswordErr    error
	SetActiveErr         error
	CreateSessionErr     error
	GetSessionErr        error
	DeleteSessionErr     error
	DeleteAllSessionsErr error
	RecordAuditErr       error

	Accounts map[uuid.UUID]*store.Account
	Sessions map[uuid.UUID]*store.Session
	Events   []store.AuditEvent

	// Now stamps created rows; nil means time.Now.
	Now func() time.Time

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given accounts.
func NewMockStore(accounts ...*store.Account) *MockStore {
	ms := &MockStore{
		Accounts: make(map[uuid.UUID]*store.Account),
		Sessions: make(map[uuid.UUID]*store.Session),
	}
	for _, a := range accounts {
		ms.Accounts[a.ID] = a
	}
	return ms
}

func (m *MockStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockStore) init() {
	if m.Accounts == nil {
		m.Accounts = make(map[uuid.UUID]*store.Account)
	}
	if m.Sessions == nil {
		m.Sessions = make(map[uuid.UUID]*store.Session)
	}
}

// copyAccount hands out copies so callers cannot mutate stored state behind the mock's lock.
func copyAccount(a *store.Account) *store.Account {
	c := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

func (m *MockStore) CreateAccount(_ context.Context, username, passwordHash string, role store.Role, mustChangePassword bool) (*store.Account, error) {
	if m.CreateAccountErr != nil {
		return nil, m.CreateAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, a := range m.Accounts {
		if a.Username == username {
			return nil, store.ErrDuplicateUsername
		}
	}
	now := m.now()
	a := &store.Account{
		ID:                 uuid.Must(uuid.NewV7()),
		Username:           username,
		PasswordHash:       passwordHash,
		Role:               role,
		IsActive:           true,
		MustChangePassword: mustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.Accounts[a.ID] = a
	return copyAccount(a), nil
}

func (m *MockStore) GetAccountByUsername(_ context.Context, username string) (*store.Account, error) {
	if m.GetAccountErr != nil {
		return nil, m.GetAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Accounts {
		if a.Username == username {
			return copyAccount(a), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetAccountByID(_ context.Context, id uuid.UUID) (*store.Account, error) {
	if m.GetAccountErr != nil {
		return nil, m.GetAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAccount(a), nil
}

// RecordLoginFailure mirrors the Postgres CASE update: increment, and lock once the threshold is reached.
func (m *MockStore) RecordLoginFailure(_ context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*store.LockoutState, error) {
	if m.RecordFailureErr != nil {
		return nil, m.RecordFailureErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		t := lockUntil
		a.LockedUntil = &t
	}
	st := &store.LockoutState{FailedLoginAttempts: a.FailedLoginAttempts}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		st.LockedUntil = &t
	}
	return st, nil
}

func (m *MockStore) ResetLoginFailures(_ context.Context, id uuid.UUID) error {
	if m.ResetFailuresErr != nil {
		return m.ResetFailuresErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (m *MockStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string, mustChangePassword bool) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.MustChangePassword = mustChangePassword
	a.UpdatedAt = m.now()
	return nil
}

func (m *MockStore) SetAccountActive(_ context.Context, id uuid.UUID, active bool) error {
	if m.SetActiveErr != nil {
		return m.SetActiveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.IsActive = active
	if active {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	}
	return nil
}

func (m *MockStore) CreateSession(_ context.Context, accountID uuid.UUID, tokenDigest []byte, expiresAt time.Time) (*store.Session, error) {
	if m.CreateSessionErr != nil {
		return nil, m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	s := &store.Session{
		ID:          uuid.Must(uuid.NewV7()),
		AccountID:   accountID,
		TokenDigest: append([]byte(nil), tokenDigest...),
		CreatedAt:   m.now(),
		ExpiresAt:   expiresAt,
	}
	m.Sessions[s.ID] = s
	c := *s
	return &c, nil
}

func (m *MockStore) GetSessionByID(_ context.Context, id uuid.UUID) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MockStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	delete(m.Sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MockStore) DeleteAllAccountSessions(_ context.Context, accountID uuid.UUID) (int64, error) {
	if m.DeleteAllSessionsErr != nil {
		return 0, m.DeleteAllSessionsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.Sessions {
		if s.AccountID == accountID {
			delete(m.Sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) RecordAudit(_ context.Context, e store.AuditEvent) error {
	if m.RecordAuditErr != nil {
		return m.RecordAuditErr
	}
	m.mu.Lock()
	m.Events = append(m.Events, e)
	m.mu.Unlock()
	return nil
}

// Account returns a copy of the stored account, or nil.
func (m *MockStore) Account(id uuid.UUID) *store.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return nil
	}
	return copyAccount(a)
}

// SessionCount returns how many sessions accountID holds.
func (m *MockStore) SessionCount(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sessions {
		if s.AccountID == accountID {
			n++
		}
	}
	return n
}

// EventsWithAction returns recorded audit events matching action, in order.
func (m *MockStore) EventsWithAction(action string) []store.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AuditEvent
	for _, e := range m.Events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// MockLimiter implements auth.RateLimiter with a fixed answer.
type MockLimiter struct {
	Result store.RateLimitResult
	Err    error

	mu   sync.Mutex
	Keys []string
}

func (l *MockLimiter) Consume(_ context.Context, key string, _ store.RateLimit) (store.RateLimitResult, error) {
	l.mu.Lock()
	l.Keys = append(l.Keys, key)
	l.mu.Unlock()
	return l.Result, l.Err
}

// MockHealth implements auth.HealthChecker.
type MockHealth struct {
	Err error
}

func (h MockHealth) CheckHealth(context.Context) error { return h.Err }
