package domain

import (
	"time"
)

// User represents the identity consumed by the auth subsystem. The full user
// profile (names, addresses, preferences) is owned by the user service; only
// the columns relevant to authentication are read here.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Username          string     `json:"username"`
	PasswordHash      string     `json:"-"`
	Role              string     `json:"role"`
	IsActive          bool       `json:"is_active"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PasswordEpochMillis returns the password-changed-at timestamp as epoch
// milliseconds, or 0 when the password has never been changed.
func (u *User) PasswordEpochMillis() int64 {
	if u.PasswordChangedAt == nil {
		return 0
	}
	return u.PasswordChangedAt.UnixMilli()
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
