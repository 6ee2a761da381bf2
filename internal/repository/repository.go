package repository

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/AuthGo/internal/domain"
)

// ErrDuplicateRefreshToken is returned by SessionRepository.Create when the
// refresh token digest collides with an existing row. Cryptographically
// improbable, but the caller must regenerate the token and retry once.
var ErrDuplicateRefreshToken = errors.New("refresh token already exists")

// UserRepository is the narrow read/write contract over the user-identity
// collaborator. User profiles are owned by the user service; the auth
// subsystem only reads credentials and bumps the password epoch.
type UserRepository interface {
	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdatePassword replaces the password hash and sets password_changed_at,
	// which invalidates every previously issued token via the embedded epoch.
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
}

// SessionRepository is the durable registry of refresh sessions: one row per
// login per device.
type SessionRepository interface {
	// Create inserts a new session. Returns ErrDuplicateRefreshToken when the
	// refresh token digest collides with an existing row.
	Create(ctx context.Context, session *domain.Session) error

	// FindValidByRefreshToken returns the session matching the given refresh
	// token digest, only if it is active and unexpired.
	FindValidByRefreshToken(ctx context.Context, tokenHash string) (*domain.Session, error)

	// Touch updates last_activity_at. It never extends expires_at: refresh
	// tokens expire on a fixed schedule from issuance.
	Touch(ctx context.Context, sessionID string) error

	// Invalidate soft-terminates one session, recording the reason.
	Invalidate(ctx context.Context, sessionID, reason string) error

	// InvalidateAllForUser soft-terminates every active session of the user,
	// used on password change and administrative lock.
	InvalidateAllForUser(ctx context.Context, userID, reason string) (int64, error)

	// ListActiveByUser returns the user's active, unexpired sessions for
	// device listing.
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error)

	// GetByID retrieves one session regardless of state.
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)

	// DeleteExpired removes rows whose expiry or logout is past the retention
	// horizon and returns the number removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
