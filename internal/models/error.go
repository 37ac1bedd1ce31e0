package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication and credential errors
var (
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrPrincipalDisabled = errors.New("account is disabled")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrPolicyViolation   = errors.New("password policy violation")
)

// MFA errors
var (
	ErrUnknownMethod        = errors.New("unknown mfa method")
	ErrNotEnrolled          = errors.New("mfa method not enrolled")
	ErrChallengeNotRequired = errors.New("method does not use server challenges")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrCodeMismatch         = errors.New("verification code mismatch")
)

// Session and token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrReplayDetected = errors.New("refresh token replay detected")
	ErrSessionRevoked = errors.New("session has been revoked")
	ErrSessionExpired = errors.New("session has expired")
)

// Vault errors
var (
	ErrDecryptFailure = errors.New("failed to decrypt vault item")
	ErrKeyNotFound    = errors.New("encryption key version not found")
)

// AccountLockedError carries the remaining lockout duration so callers can
// surface a Retry-After to the client.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrAccountLocked) match the typed error.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// PolicyViolationError reports why a candidate password was rejected.
// The reason is safe for user-facing messaging.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("password policy violation: %s", e.Reason)
}

// Is lets errors.Is(err, ErrPolicyViolation) match the typed error.
func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}
