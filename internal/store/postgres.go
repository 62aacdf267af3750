// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store for accounts, sessions, and audit events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// accountColumns is the SELECT list matching scanAccount.
const accountColumns = `id, username, password_hash, role, is_active, must_change_password,
	failed_login_attempts, locked_until, created_at, updated_at`

// scanAccount reads one account row. Role is scanned as text and parsed so an
// unknown value in the table surfaces as an error instead of a silent grant.
func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var role string
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &role, &a.IsActive, &a.MustChangePassword,
		&a.FailedLoginAttempts, &a.LockedUntil, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.Role, err = ParseRole(role); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account. Username must already be normalized.
// Returns ErrDuplicateUsername if the username is taken.
func (s *PostgresStore) CreateAccount(ctx context.Context, username, passwordHash string, role Role, mustChangePassword bool) (*Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating account id: %w", err)
	}
	acct, err := scanAccount(s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, password_hash, role, must_change_password)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+accountColumns,
		id, username, passwordHash, string(role), mustChangePassword))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}
	return acct, nil
}

// GetAccountByUsername fetches an account by its normalized username.
// Returns ErrNotFound if no row matches.
func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE username = $1", username))
}

// GetAccountByID fetches an account by id. Returns ErrNotFound if no row matches.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

// RecordLoginFailure atomically increments failed_login_attempts and sets locked_until
// once the new count reaches threshold. Concurrent failures serialize on the row lock,
// so no increment is lost.
func (s *PostgresStore) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*LockoutState, error) {
	var st LockoutState
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until`,
		id, threshold, lockUntil,
	).Scan(&st.FailedLoginAttempts, &st.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("recording login failure: %w", err)
	}
	return &st, nil
}

// ResetLoginFailures zeroes the failure counter and clears locked_until.
func (s *PostgresStore) ResetLoginFailures(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resetting login failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword stores a new Argon2id hash and sets the forced-change flag.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, mustChangePassword bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, must_change_password = $3, updated_at = now()
		WHERE id = $1`, id, passwordHash, mustChangePassword)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountActive flips is_active. Activating an account also clears its lockout state.
func (s *PostgresStore) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET is_active = $2,
			failed_login_attempts = CASE WHEN $2 THEN 0 ELSE failed_login_attempts END,
			locked_until = CASE WHEN $2 THEN NULL ELSE locked_until END,
			updated_at = now()
		WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("updating is_active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession inserts a new session row and returns it with its generated id.
func (s *PostgresStore) CreateSession(ctx context.Context, accountID uuid.UUID, tokenDigest []byte, expiresAt time.Time) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	sess := Session{ID: id, AccountID: accountID, TokenDigest: tokenDigest, ExpiresAt: expiresAt}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, account_id, token_digest, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		id, accountID, tokenDigest, expiresAt,
	).Scan(&sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return &sess, nil
}

// GetSessionByID fetches a session by id regardless of expiry.
// Expiry and digest checks belong to the caller. Returns ErrNotFound if no row matches.
func (s *PostgresStore) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, token_digest, created_at, expires_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.AccountID, &sess.TokenDigest, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a single session. Deleting a missing session is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllAccountSessions removes every session for an account and returns how many were removed.
func (s *PostgresStore) DeleteAllAccountSessions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE account_id = $1", accountID)
	if err != nil {
		return 0, fmt.Errorf("deleting account sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupExpiredSessions deletes sessions that expired more than retention ago.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM sessions WHERE expires_at < $1", time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordAudit appends an audit event. Rows are never updated or deleted by this service.
func (s *PostgresStore) RecordAudit(ctx context.Context, e AuditEvent) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating audit id: %w", err)
	}
	var metadata []byte
	if e.Metadata != nil {
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshaling audit metadata: %w", err)
		}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, e.ActorID, e.Action, e.EntityType, e.EntityID, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}
