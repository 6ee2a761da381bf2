package domain

import (
	"time"
)

// Token type label stored on every session row. Only bearer tokens are issued.
const TokenTypeBearer = "Bearer"

// Reasons recorded when a session is soft-invalidated.
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonRotated        = "rotated"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonAdmin          = "admin"
	RevokeReasonExpired        = "expired"
)

// Session is the durable record of one refresh token: one row per login per
// device. The refresh token itself is never stored; only its SHA-256 digest,
// which carries the uniqueness constraint.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	RefreshTokenHash string     `json:"-"`
	AccessTokenID    string     `json:"-"`
	TokenType        string     `json:"token_type"`
	DeviceName       string     `json:"device_name,omitempty"`
	IPAddress        string     `json:"ip_address,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LoggedOutAt      *time.Time `json:"logged_out_at,omitempty"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	IsActive         bool       `json:"is_active"`
	RevokeReason     string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Valid reports whether the session can still be exchanged for new tokens.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// DeviceMeta carries the client metadata captured at login and stored on the
// session row for later device listing.
type DeviceMeta struct {
	DeviceName string
	IPAddress  string
	UserAgent  string
}
