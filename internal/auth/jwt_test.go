package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/AuthGo/internal/domain"
)

const testSecret = "test-secret-key-for-testing"

func newManager() *TokenManager {
	return NewTokenManager(testSecret, time.Hour, 168*time.Hour)
}

func testUser() *domain.User {
	changed := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	return &domain.User{
		ID:                "11111111-2222-3333-4444-555555555555",
		Email:             "user@example.com",
		Username:          "user1",
		Role:              domain.RoleCustomer,
		IsActive:          true,
		PasswordChangedAt: &changed,
	}
}

func TestIssueAccessToken_RoundTrip(t *testing.T) {
	m := newManager()
	user := testUser()

	signed, issued, err := m.IssueAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := m.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.Username, claims.Username)
	assert.Equal(t, user.Role, claims.Role)
	assert.Equal(t, user.PasswordEpochMillis(), claims.PasswordChangedAt)
	assert.Equal(t, issued.ID, claims.ID)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueAccessToken_UniqueTokenIDs(t *testing.T) {
	m := newManager()
	user := testUser()

	_, first, err := m.IssueAccessToken(user)
	require.NoError(t, err)
	_, second, err := m.IssueAccessToken(user)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestIssueAccessToken_NoPasswordChange(t *testing.T) {
	m := newManager()
	user := testUser()
	user.PasswordChangedAt = nil

	signed, _, err := m.IssueAccessToken(user)
	require.NoError(t, err)

	claims, err := m.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), claims.PasswordChangedAt)
}

func TestVerify_Expired(t *testing.T) {
	m := NewTokenManager(testSecret, -time.Minute, -time.Minute)

	signed, _, err := m.IssueAccessToken(testUser())
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	m := newManager()
	other := NewTokenManager("a-completely-different-secret", time.Hour, time.Hour)

	signed, _, err := other.IssueAccessToken(testUser())
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestVerify_UnsupportedSigningMethod(t *testing.T) {
	m := newManager()

	// HS256 with the correct secret still fails: only HS512 is accepted.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenUnsupported)
}

func TestVerify_NoneAlgorithmRejected(t *testing.T) {
	m := newManager()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenUnsupported)
}

func TestVerify_Malformed(t *testing.T) {
	m := newManager()

	for _, tok := range []string{"not-a-token", "a.b", "a.b.c.d"} {
		_, err := m.Verify(tok)
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", tok)
	}
}

func TestVerify_Empty(t *testing.T) {
	m := newManager()

	_, err := m.Verify("")
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestIssueRefreshToken_RoundTrip(t *testing.T) {
	m := newManager()

	signed, issued, err := m.IssueRefreshToken("user-1")
	require.NoError(t, err)

	claims, err := m.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, issued.ID, claims.ID)
	assert.WithinDuration(t, time.Now().Add(168*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueRefreshTokenUntil_PinsExpiry(t *testing.T) {
	m := newManager()
	expiresAt := time.Now().UTC().Add(37 * time.Hour).Truncate(time.Second)

	signed, issued, err := m.IssueRefreshTokenUntil("user-1", expiresAt)
	require.NoError(t, err)
	assert.True(t, issued.ExpiresAt.Time.Equal(expiresAt))

	claims, err := m.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.Time.Equal(expiresAt))
}

func TestVerifyRefresh_RejectsGarbage(t *testing.T) {
	m := newManager()

	_, err := m.VerifyRefresh("")
	assert.ErrorIs(t, err, ErrTokenMissing)

	_, err = m.VerifyRefresh("garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestRemainingLifetime(t *testing.T) {
	assert.Equal(t, time.Duration(0), RemainingLifetime(nil))

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	remaining := RemainingLifetime(future)
	assert.Greater(t, remaining, 59*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)

	past := jwt.NewNumericDate(time.Now().Add(-time.Minute))
	assert.Negative(t, RemainingLifetime(past))
}
