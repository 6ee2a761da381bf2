package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/AuthGo/internal/domain"
	"github.com/utafrali/AuthGo/internal/security"
	"github.com/utafrali/AuthGo/pkg/database"
	apperrors "github.com/utafrali/AuthGo/pkg/errors"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db    DB
	stats *security.QueryStats
}

// NewUserRepository creates a PostgreSQL-backed user repository. stats may be
// nil to disable latency tracking.
func NewUserRepository(db DB, stats *security.QueryStats) *UserRepository {
	return &UserRepository{db: db, stats: stats}
}

func (r *UserRepository) instrument(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := database.TraceQuery(ctx, operation, statement)
	return ctx, func(err error) {
		end(err)
		if r.stats != nil {
			r.stats.Observe(time.Since(start))
		}
	}
}

const userColumns = `id, email, username, password_hash, role, is_active,
		password_changed_at, created_at, updated_at`

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (u *domain.User, err error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`

	ctx, end := r.instrument(ctx, "GetUserByID", query)
	defer func() { end(err) }()

	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user by email. Lookups are case-insensitive; the
// lockout tracker keys on the same lower-cased form.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (u *domain.User, err error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(email) = LOWER($1)`

	ctx, end := r.instrument(ctx, "GetUserByEmail", query)
	defer func() { end(err) }()

	return r.scanUser(ctx, query, email)
}

// UpdatePassword stores a new password hash and stamps password_changed_at,
// which invalidates access tokens minted before the change.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) (err error) {
	query := `
		UPDATE users
		SET password_hash = $1, password_changed_at = $2, updated_at = $3
		WHERE id = $4`

	ctx, end := r.instrument(ctx, "UpdateUserPassword", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, passwordHash, changedAt, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.PasswordChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}
