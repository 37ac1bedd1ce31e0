package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session revocation reasons recorded alongside revoked_at.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonReplayDetected  = "replay_detected"
	RevokeReasonAdmin           = "admin"
)

// Session is a refresh-token family. Each refresh advances RefreshGeneration
// by one; exactly one generation is redeemable at any moment, and presenting
// an older generation is treated as replay of a stolen token.
type Session struct {
	ID                string
	PrincipalID       string
	RefreshGeneration int
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokeReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Revoked reports whether the session family has been terminated.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether the refresh window has closed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RefreshToken is one generation's opaque token record. Only the SHA-256 of
// the token is stored; rows for superseded generations are kept until
// hygiene cleanup so stale replays remain recognizable.
type RefreshToken struct {
	TokenHash  string
	SessionID  string
	Generation int
	CreatedAt  time.Time
}

// TokenPair is the result of issuance or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionID    string    `json:"session_id"`
}

// AccessClaims is the stateless access-token claims bundle: subject,
// session id, expiry. Verification never touches the session store.
type AccessClaims struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principal_id"`
	SessionID   string `json:"session_id"`
	jwt.RegisteredClaims
}
