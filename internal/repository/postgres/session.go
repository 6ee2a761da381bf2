// Package postgres implements the repository contracts over pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/AuthGo/internal/domain"
	"github.com/utafrali/AuthGo/internal/repository"
	"github.com/utafrali/AuthGo/internal/security"
	"github.com/utafrali/AuthGo/pkg/database"
	apperrors "github.com/utafrali/AuthGo/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repositories use. pgxmock's pool
// implements it, which keeps the repository tests off a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sessionRetention is how long terminated or expired rows are kept before the
// sweeper prunes them, for audit trails and device-history display.
const sessionRetention = 30 * 24 * time.Hour

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db    DB
	stats *security.QueryStats
}

// NewSessionRepository creates a PostgreSQL-backed session repository. stats
// may be nil to disable latency tracking.
func NewSessionRepository(db DB, stats *security.QueryStats) *SessionRepository {
	return &SessionRepository{db: db, stats: stats}
}

// instrument opens a database span for one repository call and records its
// elapsed time in the latency tracker when the returned func is called.
func (r *SessionRepository) instrument(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := database.TraceQuery(ctx, operation, statement)
	return ctx, func(err error) {
		end(err)
		if r.stats != nil {
			r.stats.Observe(time.Since(start))
		}
	}
}

const sessionColumns = `id, user_id, refresh_token_hash, access_token_id, token_type,
		device_name, ip_address, user_agent, expires_at, logged_out_at,
		last_activity_at, is_active, revoke_reason, created_at, updated_at`

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) (err error) {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, access_token_id, token_type,
			device_name, ip_address, user_agent, expires_at, logged_out_at,
			last_activity_at, is_active, revoke_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	ctx, end := r.instrument(ctx, "CreateSession", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshTokenHash,
		s.AccessTokenID,
		s.TokenType,
		s.DeviceName,
		s.IPAddress,
		s.UserAgent,
		s.ExpiresAt,
		s.LoggedOutAt,
		s.LastActivityAt,
		s.IsActive,
		s.RevokeReason,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateRefreshToken
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// FindValidByRefreshToken returns the active, unexpired session matching the
// refresh token digest.
func (r *SessionRepository) FindValidByRefreshToken(ctx context.Context, tokenHash string) (s *domain.Session, err error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_token_hash = $1 AND is_active = true AND expires_at > $2`

	ctx, end := r.instrument(ctx, "FindValidByRefreshToken", query)
	defer func() { end(err) }()

	return r.scanSession(ctx, query, tokenHash, time.Now().UTC())
}

// GetByID retrieves one session regardless of state.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (s *domain.Session, err error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1`

	ctx, end := r.instrument(ctx, "GetSessionByID", query)
	defer func() { end(err) }()

	return r.scanSession(ctx, query, sessionID)
}

// Touch updates last_activity_at only; expires_at is fixed at issuance.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string) (err error) {
	now := time.Now().UTC()
	query := `UPDATE sessions SET last_activity_at = $1, updated_at = $1 WHERE id = $2`

	ctx, end := r.instrument(ctx, "TouchSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", sessionID)
	}

	return nil
}

// Invalidate soft-terminates one session.
func (r *SessionRepository) Invalidate(ctx context.Context, sessionID, reason string) (err error) {
	now := time.Now().UTC()
	query := `
		UPDATE sessions
		SET is_active = false, logged_out_at = $1, revoke_reason = $2, updated_at = $1
		WHERE id = $3 AND is_active = true`

	ctx, end := r.instrument(ctx, "InvalidateSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now, reason, sessionID)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", sessionID)
	}

	return nil
}

// InvalidateAllForUser soft-terminates every active session of the user and
// returns the number affected.
func (r *SessionRepository) InvalidateAllForUser(ctx context.Context, userID, reason string) (n int64, err error) {
	now := time.Now().UTC()
	query := `
		UPDATE sessions
		SET is_active = false, logged_out_at = $1, revoke_reason = $2, updated_at = $1
		WHERE user_id = $3 AND is_active = true`

	ctx, end := r.instrument(ctx, "InvalidateAllSessionsForUser", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now, reason, userID)
	if err != nil {
		return 0, fmt.Errorf("invalidate sessions for user: %w", err)
	}

	return ct.RowsAffected(), nil
}

// ListActiveByUser returns the user's active, unexpired sessions ordered by
// most recent activity.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) (sessions []domain.Session, err error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY last_activity_at DESC`

	ctx, end := r.instrument(ctx, "ListActiveSessionsByUser", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Session
		if err := scanSessionRow(rows, &s); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	if sessions == nil {
		sessions = []domain.Session{}
	}

	return sessions, nil
}

// DeleteExpired removes rows whose expiry or logout is older than the
// retention horizon. Live sessions are never touched.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (n int64, err error) {
	horizon := time.Now().UTC().Add(-sessionRetention)
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (logged_out_at IS NOT NULL AND logged_out_at < $1)`

	ctx, end := r.instrument(ctx, "DeleteExpiredSessions", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, horizon)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}

// scanSession executes a query expected to return a single session row.
func (r *SessionRepository) scanSession(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	var s domain.Session
	if err := scanSessionRow(r.db.QueryRow(ctx, query, args...), &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func scanSessionRow(row pgx.Row, s *domain.Session) error {
	return row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.AccessTokenID,
		&s.TokenType,
		&s.DeviceName,
		&s.IPAddress,
		&s.UserAgent,
		&s.ExpiresAt,
		&s.LoggedOutAt,
		&s.LastActivityAt,
		&s.IsActive,
		&s.RevokeReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
