package models

import (
	"time"
)

// MfaMethod identifies a second-factor mechanism.
type MfaMethod string

const (
	MfaMethodTOTP  MfaMethod = "totp"
	MfaMethodSMS   MfaMethod = "sms"
	MfaMethodEmail MfaMethod = "email"
)

// ParseMfaMethod validates a wire-format method name.
func ParseMfaMethod(s string) (MfaMethod, error) {
	switch MfaMethod(s) {
	case MfaMethodTOTP, MfaMethodSMS, MfaMethodEmail:
		return MfaMethod(s), nil
	default:
		return "", ErrUnknownMethod
	}
}

// UsesChallenge reports whether the method requires a server-issued one-time
// code. TOTP codes are computed client-side, so no challenge step exists.
func (m MfaMethod) UsesChallenge() bool {
	return m == MfaMethodSMS || m == MfaMethodEmail
}

// MfaEnrollment is a principal's registration of one MFA method.
// For TOTP the seed lives in the secure vault and VaultRef is the only
// handle to it; for SMS/EMAIL only the delivery channel is recorded and the
// OTP is generated per challenge, never persisted in plaintext.
type MfaEnrollment struct {
	ID          string
	PrincipalID string
	Method      MfaMethod
	VaultRef    string // opaque vault handle, TOTP only
	Channel     string // destination address, SMS/EMAIL only
	BackupCodes []BackupCodeEntry
	EnrolledAt  time.Time
	VerifiedAt  *time.Time // nil while enrollment is pending first verification
}

// IsVerified reports whether the enrollment completed its first verification.
func (e *MfaEnrollment) IsVerified() bool {
	return e.VerifiedAt != nil
}

// UnusedBackupCodes counts codes still available for consumption.
func (e *MfaEnrollment) UnusedBackupCodes() int {
	n := 0
	for _, c := range e.BackupCodes {
		if c.UsedAt == nil {
			n++
		}
	}
	return n
}

// BackupCodeEntry represents a single-use backup code.
type BackupCodeEntry struct {
	CodeHash  string     `json:"code_hash"` // bcrypt hash of the code
	UsedAt    *time.Time `json:"used_at"`   // when consumed (nil = unused)
	CreatedAt time.Time  `json:"created_at"`
}

// MfaChallenge is a pending server-issued one-time code for SMS/EMAIL.
// Only the hash is stored; the plaintext exists just long enough to hand to
// the delivery collaborator.
type MfaChallenge struct {
	ID          string
	PrincipalID string
	Method      MfaMethod
	CodeHash    string
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the challenge is past its validity window.
func (c *MfaChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Consumed reports whether the challenge has already been redeemed.
func (c *MfaChallenge) Consumed() bool {
	return c.ConsumedAt != nil
}

// EnrollmentPayload is returned once at enrollment time. The secret and
// backup codes are shown to the user exactly once and are not recoverable.
type EnrollmentPayload struct {
	EnrollmentID string   `json:"enrollment_id"`
	Method       string   `json:"method"`
	Secret       string   `json:"secret,omitempty"`       // TOTP seed, base32
	OtpauthURL   string   `json:"otpauth_url,omitempty"`  // TOTP provisioning URI
	QRCode       string   `json:"qr_code,omitempty"`      // PNG data URL
	BackupCodes  []string `json:"backup_codes"`
}

// ChallengeTicket identifies an issued SMS/EMAIL challenge.
type ChallengeTicket struct {
	ChallengeID string    `json:"challenge_id"`
	Method      string    `json:"method"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// EnrollmentStatus summarizes one enrollment for status listings.
type EnrollmentStatus struct {
	Method            string     `json:"method"`
	Verified          bool       `json:"verified"`
	EnrolledAt        time.Time  `json:"enrolled_at"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	BackupCodesUnused int        `json:"backup_codes_unused"`
}
