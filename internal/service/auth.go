// Package service contains the authentication business logic: credential
// checks, token issuance, session lifecycle, and lockout accounting.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/AuthGo/internal/auth"
	"github.com/utafrali/AuthGo/internal/domain"
	"github.com/utafrali/AuthGo/internal/event"
	"github.com/utafrali/AuthGo/internal/repository"
	"github.com/utafrali/AuthGo/internal/security"
	apperrors "github.com/utafrali/AuthGo/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// AuthService implements login, token refresh, logout, and password change
// flows on top of the token codec, session registry, blacklist, and lockout
// tracker.
type AuthService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *auth.TokenManager
	blacklist   *security.Blacklist
	lockout     *security.LockoutTracker
	producer    *event.Producer
	logger      *slog.Logger

	// pwdEpochs caches each user's password-changed-at epoch (milliseconds)
	// as of their last login, refresh, or password change in this process.
	// Authenticate consults it instead of the database so the per-request
	// path stays free of persistence I/O.
	pwdEpochs sync.Map // user id -> int64
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *auth.TokenManager,
	blacklist *security.Blacklist,
	lockout *security.LockoutTracker,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		blacklist:   blacklist,
		lockout:     lockout,
		producer:    producer,
		logger:      logger,
	}
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
	Device   domain.DeviceMeta
}

// Login verifies credentials and opens a new session. Lockout is checked
// before the password so a locked account cannot be probed, and the failure
// message never distinguishes a wrong password from an unknown account.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	if remaining := s.lockout.RemainingLockout(email); remaining > 0 {
		return nil, nil, apperrors.Locked(remaining)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.recordLoginFailure(ctx, email)
			return nil, nil, apperrors.Unauthorized("invalid email or password")
		}
		return nil, nil, apperrors.Unavailable(err)
	}

	if !user.IsActive {
		return nil, nil, apperrors.Unauthorized("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, email)
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	s.lockout.RecordSuccess(email)

	tokens, session, err := s.openSession(ctx, user, input.Device, time.Time{})
	if err != nil {
		return nil, nil, err
	}

	s.pwdEpochs.Store(user.ID, user.PasswordEpochMillis())

	if err := s.producer.PublishUserLoggedIn(ctx, event.UserLoggedInData{
		UserID:     user.ID,
		Email:      user.Email,
		SessionID:  session.ID,
		DeviceName: session.DeviceName,
		IPAddress:  session.IPAddress,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.logged_in event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)

	return user, tokens, nil
}

// Authenticate verifies an access token for an inbound request. The whole
// check is in-memory: signature and expiry via the codec, revocation via the
// blacklist, and password-epoch staleness via the process-local cache.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string) (*auth.Claims, error) {
	claims, err := s.tokens.Verify(rawToken)
	if err != nil {
		return nil, apperrors.Unauthorized(verifyFailureMessage(err))
	}

	if s.blacklist.IsRevoked(claims.ID) {
		return nil, apperrors.Unauthorized("token has been revoked")
	}

	if v, ok := s.pwdEpochs.Load(claims.UserID); ok {
		if claims.PasswordChangedAt < v.(int64) {
			return nil, apperrors.Unauthorized("token issued before password change")
		}
	}

	return claims, nil
}

// Refresh rotates a refresh token: the presented session is invalidated and a
// replacement is created with the same absolute expiry, so rotation never
// extends the original login's lifetime.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device domain.DeviceMeta) (*domain.TokenPair, error) {
	rclaims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	sess, err := s.sessionRepo.FindValidByRefreshToken(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("refresh token not recognized")
		}
		return nil, apperrors.Unavailable(err)
	}

	if sess.UserID != rclaims.UserID {
		return nil, apperrors.Unauthorized("refresh token not recognized")
	}

	user, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("refresh token not recognized")
		}
		return nil, apperrors.Unavailable(err)
	}

	if !user.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	// Record activity on the presented session now: if rotation fails past
	// this point the session stays alive with an accurate last-seen time.
	if err := s.sessionRepo.Touch(ctx, sess.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to touch session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	// Losing this race means another request already rotated the token;
	// treat the presented token as spent.
	if err := s.sessionRepo.Invalidate(ctx, sess.ID, domain.RevokeReasonRotated); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("refresh token already used")
		}
		return nil, apperrors.Unavailable(err)
	}

	tokens, newSess, err := s.openSession(ctx, user, device, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}

	s.pwdEpochs.Store(user.ID, user.PasswordEpochMillis())

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
		slog.String("old_session_id", sess.ID),
		slog.String("session_id", newSess.ID),
	)

	return tokens, nil
}

// Logout revokes the presented access token and, when a refresh token is
// supplied, terminates its session. Logout is idempotent: a token that is
// already revoked or a session already closed is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, accessTokenID string, accessExpiresAt time.Time, refreshToken string) error {
	s.blacklist.Revoke(accessTokenID, accessExpiresAt)

	if refreshToken != "" {
		if err := s.closeSessionByRefreshToken(ctx, userID, refreshToken); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
	)

	return nil
}

// LogoutAll terminates every active session of the user and blacklists their
// last-issued access tokens. Returns the number of sessions closed.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	sessions, err := s.sessionRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, apperrors.Unavailable(err)
	}

	s.revokeAccessTokens(sessions)

	n, err := s.sessionRepo.InvalidateAllForUser(ctx, userID, domain.RevokeReasonLogout)
	if err != nil {
		return 0, apperrors.Unavailable(err)
	}

	if err := s.producer.PublishSessionRevoked(ctx, event.SessionRevokedData{
		UserID: userID,
		Reason: domain.RevokeReasonLogout,
		Count:  n,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "all sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)

	return n, nil
}

// ListSessions returns the user's active sessions for device management.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.sessionRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	return sessions, nil
}

// RevokeSession terminates one of the user's sessions by id. A session owned
// by a different user is reported as not found rather than forbidden.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("session", sessionID)
		}
		return apperrors.Unavailable(err)
	}

	if sess.UserID != userID {
		return apperrors.NotFound("session", sessionID)
	}

	if err := s.sessionRepo.Invalidate(ctx, sess.ID, domain.RevokeReasonLogout); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Already closed.
			return nil
		}
		return apperrors.Unavailable(err)
	}

	s.revokeAccessTokens([]domain.Session{*sess})

	if err := s.producer.PublishSessionRevoked(ctx, event.SessionRevokedData{
		UserID:    userID,
		SessionID: sess.ID,
		Reason:    domain.RevokeReasonLogout,
		Count:     1,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// ChangePassword verifies the current password, stores a new hash, and cuts
// off every outstanding credential: sessions are bulk-invalidated, their
// access tokens blacklisted, and the password epoch advanced so tokens issued
// before the change fail authentication everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return apperrors.Unavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	// Millisecond granularity matches the epoch embedded in access tokens.
	changedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.userRepo.UpdatePassword(ctx, userID, string(hashed), changedAt); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return apperrors.Unavailable(err)
	}

	s.pwdEpochs.Store(userID, changedAt.UnixMilli())

	sessions, err := s.sessionRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return apperrors.Unavailable(err)
	}
	s.revokeAccessTokens(sessions)

	n, err := s.sessionRepo.InvalidateAllForUser(ctx, userID, domain.RevokeReasonPasswordChange)
	if err != nil {
		return apperrors.Unavailable(err)
	}

	if err := s.producer.PublishPasswordChanged(ctx, event.PasswordChangedData{
		UserID:          userID,
		Email:           user.Email,
		SessionsRevoked: n,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password.changed event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", userID),
		slog.Int64("sessions_revoked", n),
	)

	return nil
}

// --- Helpers ---

// openSession issues a token pair and persists the session row. A zero
// expiresAt grants the full refresh lifetime; a non-zero value pins the
// session to that absolute expiry (rotation). A duplicate refresh token is a
// generation collision: regenerate and retry exactly once.
func (s *AuthService) openSession(ctx context.Context, user *domain.User, device domain.DeviceMeta, expiresAt time.Time) (*domain.TokenPair, *domain.Session, error) {
	accessToken, accessClaims, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		var (
			refreshToken string
			rclaims      *auth.RefreshClaims
		)
		if expiresAt.IsZero() {
			refreshToken, rclaims, err = s.tokens.IssueRefreshToken(user.ID)
		} else {
			refreshToken, rclaims, err = s.tokens.IssueRefreshTokenUntil(user.ID, expiresAt)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("issue refresh token: %w", err)
		}

		now := time.Now().UTC()
		sess := &domain.Session{
			ID:               uuid.New().String(),
			UserID:           user.ID,
			RefreshTokenHash: hashToken(refreshToken),
			AccessTokenID:    accessClaims.ID,
			TokenType:        domain.TokenTypeBearer,
			DeviceName:       device.DeviceName,
			IPAddress:        device.IPAddress,
			UserAgent:        device.UserAgent,
			ExpiresAt:        rclaims.ExpiresAt.Time,
			LastActivityAt:   now,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		err = s.sessionRepo.Create(ctx, sess)
		if err == nil {
			return &domain.TokenPair{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				TokenType:    domain.TokenTypeBearer,
				// expires_in reflects the issued token's exp claim, not the
				// configured duration.
				ExpiresIn: int64(auth.RemainingLifetime(accessClaims.ExpiresAt).Round(time.Second).Seconds()),
			}, sess, nil
		}

		if errors.Is(err, repository.ErrDuplicateRefreshToken) && attempt == 0 {
			s.logger.WarnContext(ctx, "refresh token collision, regenerating",
				slog.String("user_id", user.ID),
			)
			continue
		}

		return nil, nil, apperrors.Unavailable(err)
	}

	return nil, nil, apperrors.Unavailable(repository.ErrDuplicateRefreshToken)
}

// closeSessionByRefreshToken invalidates the session matching the refresh
// token, provided it belongs to userID. An unparseable or unknown token is
// ignored; logout must not fail because the client sent a stale token.
func (s *AuthService) closeSessionByRefreshToken(ctx context.Context, userID, refreshToken string) error {
	if _, err := s.tokens.VerifyRefresh(refreshToken); err != nil {
		return nil
	}

	sess, err := s.sessionRepo.FindValidByRefreshToken(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return apperrors.Unavailable(err)
	}

	if sess.UserID != userID {
		return nil
	}

	if err := s.sessionRepo.Invalidate(ctx, sess.ID, domain.RevokeReasonLogout); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return apperrors.Unavailable(err)
	}

	if err := s.producer.PublishSessionRevoked(ctx, event.SessionRevokedData{
		UserID:    userID,
		SessionID: sess.ID,
		Reason:    domain.RevokeReasonLogout,
		Count:     1,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// revokeAccessTokens blacklists the last-issued access token of each session.
// The exact remaining lifetime of those tokens is unknown here, so entries
// are held for the full access lifetime as an upper bound.
func (s *AuthService) revokeAccessTokens(sessions []domain.Session) {
	expiry := time.Now().UTC().Add(s.tokens.AccessExpiry())
	for _, sess := range sessions {
		s.blacklist.Revoke(sess.AccessTokenID, expiry)
	}
}

// recordLoginFailure counts one failed attempt and publishes a lockout event
// when this failure is the one that crossed the threshold.
func (s *AuthService) recordLoginFailure(ctx context.Context, email string) {
	count := s.lockout.RecordFailure(email)
	if count != s.lockout.Threshold() {
		return
	}

	remaining := s.lockout.RemainingLockout(email)
	if err := s.producer.PublishAccountLocked(ctx, event.AccountLockedData{
		Email:          strings.ToLower(strings.TrimSpace(email)),
		FailedAttempts: int64(count),
		LockoutSeconds: int64(remaining / time.Second),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.locked event",
			slog.String("error", err.Error()),
		)
	}

	s.logger.WarnContext(ctx, "account locked after repeated failures",
		slog.Int("failed_attempts", count),
	)
}

// verifyFailureMessage maps codec verification errors onto user-visible 401
// messages without leaking internals.
func verifyFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, auth.ErrTokenSignature):
		return "token signature is invalid"
	case errors.Is(err, auth.ErrTokenUnsupported):
		return "token signing method is not supported"
	case errors.Is(err, auth.ErrTokenMissing):
		return "authorization token is required"
	default:
		return "token is malformed"
	}
}

// hashToken returns the SHA256 hex digest of the given token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain upper and lower case letters and a digit")
	}

	return nil
}
