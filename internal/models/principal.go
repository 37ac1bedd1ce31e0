package models

import (
	"time"
)

// Principal statuses
const (
	PrincipalStatusActive   = "active"
	PrincipalStatusDisabled = "disabled"
)

// Principal is the account identity subject to authentication.
// FailedAttempts and LockedUntil mirror the password-scope lockout state;
// they are populated on read and mutated only through the lockout service.
type Principal struct {
	ID             string
	Email          string
	Status         string // "active", "disabled"
	FailedAttempts int
	LockedUntil    *time.Time
	LastSuccessAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsDisabled reports whether the account has been soft-disabled.
// Principals are never hard-deleted.
func (p *Principal) IsDisabled() bool {
	return p.Status == PrincipalStatusDisabled
}
