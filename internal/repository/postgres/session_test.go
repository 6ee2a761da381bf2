package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/AuthGo/internal/domain"
	"github.com/utafrali/AuthGo/internal/repository"
	"github.com/utafrali/AuthGo/internal/security"
	apperrors "github.com/utafrali/AuthGo/pkg/errors"
)

func newSessionTestFixture(t *testing.T) (*SessionRepository, pgxmock.PgxPoolIface, *security.QueryStats) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	stats := security.NewQueryStats(security.DefaultSlowQueryThreshold)
	repo := NewSessionRepository(mock, stats)
	return repo, mock, stats
}

func sampleSession() *domain.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Session{
		ID:               "s-1234",
		UserID:           "u-1234",
		RefreshTokenHash: "a1b2c3d4",
		AccessTokenID:    "jti-1",
		TokenType:        domain.TokenTypeBearer,
		DeviceName:       "Firefox on Linux",
		IPAddress:        "192.0.2.10",
		UserAgent:        "Mozilla/5.0",
		ExpiresAt:        now.Add(168 * time.Hour),
		LoggedOutAt:      nil,
		LastActivityAt:   now,
		IsActive:         true,
		RevokeReason:     "",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// sessionTestColumns returns the 15 column names scanned by scanSessionRow and
// inserted by Create.
func sessionTestColumns() []string {
	return []string{
		"id", "user_id", "refresh_token_hash", "access_token_id", "token_type",
		"device_name", "ip_address", "user_agent", "expires_at", "logged_out_at",
		"last_activity_at", "is_active", "revoke_reason", "created_at", "updated_at",
	}
}

func sessionRow(s *domain.Session) *pgxmock.Rows {
	return pgxmock.NewRows(sessionTestColumns()).AddRow(
		s.ID, s.UserID, s.RefreshTokenHash, s.AccessTokenID, s.TokenType,
		s.DeviceName, s.IPAddress, s.UserAgent, s.ExpiresAt, s.LoggedOutAt,
		s.LastActivityAt, s.IsActive, s.RevokeReason, s.CreatedAt, s.UpdatedAt,
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestSessionRepository_Create_Success(t *testing.T) {
	repo, mock, stats := newSessionTestFixture(t)
	defer mock.Close()

	s := sampleSession()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			s.ID, s.UserID, s.RefreshTokenHash, s.AccessTokenID, s.TokenType,
			s.DeviceName, s.IPAddress, s.UserAgent, s.ExpiresAt, s.LoggedOutAt,
			s.LastActivityAt, s.IsActive, s.RevokeReason, s.CreatedAt, s.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), s)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(1), stats.Snapshot().Count)
}

func TestSessionRepository_Create_DuplicateTokenHash(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	s := sampleSession()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			s.ID, s.UserID, s.RefreshTokenHash, s.AccessTokenID, s.TokenType,
			s.DeviceName, s.IPAddress, s.UserAgent, s.ExpiresAt, s.LoggedOutAt,
			s.LastActivityAt, s.IsActive, s.RevokeReason, s.CreatedAt, s.UpdatedAt,
		).
		WillReturnError(fmt.Errorf("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

	err := repo.Create(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrDuplicateRefreshToken), "expected ErrDuplicateRefreshToken, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// FindValidByRefreshToken
// ---------------------------------------------------------------------------

func TestSessionRepository_FindValidByRefreshToken_Success(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	s := sampleSession()

	mock.ExpectQuery("SELECT .+ FROM sessions").
		WithArgs(s.RefreshTokenHash, pgxmock.AnyArg()).
		WillReturnRows(sessionRow(s))

	got, err := repo.FindValidByRefreshToken(context.Background(), s.RefreshTokenHash)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.UserID, got.UserID)
	assert.True(t, got.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_FindValidByRefreshToken_NotFound(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM sessions").
		WithArgs("unknown-hash", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.FindValidByRefreshToken(context.Background(), "unknown-hash")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "expected ErrNotFound, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Touch
// ---------------------------------------------------------------------------

func TestSessionRepository_Touch_Success(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE sessions SET last_activity_at").
		WithArgs(pgxmock.AnyArg(), "s-1234").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Touch(context.Background(), "s-1234")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Touch_NotFound(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE sessions SET last_activity_at").
		WithArgs(pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Touch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Invalidate
// ---------------------------------------------------------------------------

func TestSessionRepository_Invalidate_Success(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE sessions").
		WithArgs(pgxmock.AnyArg(), domain.RevokeReasonLogout, "s-1234").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Invalidate(context.Background(), "s-1234", domain.RevokeReasonLogout)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Invalidate_AlreadyInactive(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE sessions").
		WithArgs(pgxmock.AnyArg(), domain.RevokeReasonLogout, "s-1234").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Invalidate(context.Background(), "s-1234", domain.RevokeReasonLogout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// InvalidateAllForUser
// ---------------------------------------------------------------------------

func TestSessionRepository_InvalidateAllForUser(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE sessions").
		WithArgs(pgxmock.AnyArg(), domain.RevokeReasonPasswordChange, "u-1234").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.InvalidateAllForUser(context.Background(), "u-1234", domain.RevokeReasonPasswordChange)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_InvalidateAllForUser_NoneActive(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	// Zero affected rows is not an error; logout-all is idempotent.
	mock.ExpectExec("UPDATE sessions").
		WithArgs(pgxmock.AnyArg(), domain.RevokeReasonLogout, "u-1234").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := repo.InvalidateAllForUser(context.Background(), "u-1234", domain.RevokeReasonLogout)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ListActiveByUser
// ---------------------------------------------------------------------------

func TestSessionRepository_ListActiveByUser(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	s1 := sampleSession()
	s2 := sampleSession()
	s2.ID = "s-5678"
	s2.RefreshTokenHash = "e5f6a7b8"

	rows := pgxmock.NewRows(sessionTestColumns()).
		AddRow(
			s1.ID, s1.UserID, s1.RefreshTokenHash, s1.AccessTokenID, s1.TokenType,
			s1.DeviceName, s1.IPAddress, s1.UserAgent, s1.ExpiresAt, s1.LoggedOutAt,
			s1.LastActivityAt, s1.IsActive, s1.RevokeReason, s1.CreatedAt, s1.UpdatedAt,
		).
		AddRow(
			s2.ID, s2.UserID, s2.RefreshTokenHash, s2.AccessTokenID, s2.TokenType,
			s2.DeviceName, s2.IPAddress, s2.UserAgent, s2.ExpiresAt, s2.LoggedOutAt,
			s2.LastActivityAt, s2.IsActive, s2.RevokeReason, s2.CreatedAt, s2.UpdatedAt,
		)

	mock.ExpectQuery("SELECT .+ FROM sessions").
		WithArgs("u-1234", pgxmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.ListActiveByUser(context.Background(), "u-1234")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s-1234", got[0].ID)
	assert.Equal(t, "s-5678", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ListActiveByUser_Empty(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM sessions").
		WithArgs("u-1234", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(sessionTestColumns()))

	got, err := repo.ListActiveByUser(context.Background(), "u-1234")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// DeleteExpired
// ---------------------------------------------------------------------------

func TestSessionRepository_DeleteExpired(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_DeleteExpired_StoreError(t *testing.T) {
	repo, mock, _ := newSessionTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	n, err := repo.DeleteExpired(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
