package models

import "time"

// LockoutScopePassword throttles primary password authentication.
// MFA verification is throttled per method via MfaLockoutScope, so MFA
// brute-forcing cannot consume (or hide behind) the password budget.
const LockoutScopePassword = "password"

// MfaLockoutScope returns the composite lockout scope for an MFA method.
func MfaLockoutScope(method MfaMethod) string {
	return "mfa:" + string(method)
}

// LockoutState is the per-(principal, scope) failure counter backing the
// Open -> Locked -> Open throttle state machine.
type LockoutState struct {
	PrincipalID    string
	Scope          string
	FailedAttempts int
	LockoutCount   int // completed lockouts; drives the doubling backoff
	LockedUntil    *time.Time
	UpdatedAt      time.Time
}

// Locked reports whether the scope is locked as of now.
func (s *LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// RetryAfter returns the remaining lockout duration, or zero if open.
func (s *LockoutState) RetryAfter(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}
