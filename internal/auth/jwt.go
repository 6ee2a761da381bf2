// Package auth implements the stateless token codec: issuing and verifying
// the signed access and refresh tokens that carry a user's identity claims.
//
// All expirations are wall-clock based. A host with skewed time will accept
// tokens slightly early or late; that is an operational assumption of the
// deployment, not something the codec validates.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/AuthGo/internal/domain"
)

// Verification failure kinds. A token that fails verification is permanently
// bad; callers must not retry.
var (
	ErrTokenMissing     = errors.New("token is empty")
	ErrTokenMalformed   = errors.New("token is malformed")
	ErrTokenSignature   = errors.New("token signature is invalid")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenUnsupported = errors.New("token uses an unsupported signing method")
)

const issuer = "auth-service"

// Claims is the payload of an access token.
type Claims struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	Username          string `json:"username"`
	Role              string `json:"role"`
	PasswordChangedAt int64  `json:"pwd_changed_at,omitempty"` // epoch milliseconds
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. The claim surface is kept
// minimal so a leaked refresh token exposes nothing beyond the subject id.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies access and refresh tokens with a symmetric
// key. It holds no mutable state and is safe for concurrent use.
type TokenManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenManager creates a token manager with the given secret and expiry
// durations. Secret strength is enforced at config load, not here.
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (m *TokenManager) AccessExpiry() time.Duration {
	return m.accessExpiry
}

// RefreshExpiry returns the configured refresh token lifetime.
func (m *TokenManager) RefreshExpiry() time.Duration {
	return m.refreshExpiry
}

// IssueAccessToken creates a signed access token for the given user. The
// password-changed-at epoch is embedded (milliseconds) so that all tokens
// issued before a password change can be rejected without enumerating them.
func (m *TokenManager) IssueAccessToken(user *domain.User) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:            user.ID,
		Email:             user.Email,
		Username:          user.Username,
		Role:              user.Role,
		PasswordChangedAt: user.PasswordEpochMillis(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}

	return signed, claims, nil
}

// IssueRefreshToken creates a signed refresh token containing only the userID.
func (m *TokenManager) IssueRefreshToken(userID string) (string, *RefreshClaims, error) {
	return m.IssueRefreshTokenUntil(userID, time.Now().UTC().Add(m.refreshExpiry))
}

// IssueRefreshTokenUntil creates a refresh token with an explicit absolute
// expiry. Rotation uses it to pin replacement tokens to the original session
// expiry instead of granting a fresh full lifetime.
func (m *TokenManager) IssueRefreshTokenUntil(userID string, expiresAt time.Time) (string, *RefreshClaims, error) {
	now := time.Now().UTC()
	claims := &RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return signed, claims, nil
}

// Verify checks the signature, expiry, and structure of an access token and
// returns its claims. Failures are reported as one of the typed errors above.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// VerifyRefresh checks a refresh token and returns its claims.
func (m *TokenManager) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, m.keyFunc)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// RemainingLifetime returns the duration until the token's natural expiry.
// Negative values indicate an already-expired token.
func RemainingLifetime(expiresAt *jwt.NumericDate) time.Duration {
	if expiresAt == nil {
		return 0
	}
	return time.Until(expiresAt.Time)
}

// keyFunc rejects every signing method except HS512. The rejection surfaces
// through jwt.ErrTokenUnverifiable, which classifyParseError reports as
// ErrTokenUnsupported.
func (m *TokenManager) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != jwt.SigningMethodHS512.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secret, nil
}

// classifyParseError maps jwt/v5 parse failures onto the codec's error
// taxonomy. Expiry is checked before signature because jwt/v5 joins both
// into one error when a token is expired and tampered with.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, jwt.ErrInvalidKeyType):
		return ErrTokenUnsupported
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}
