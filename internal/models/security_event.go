package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Security event kinds. Every security-relevant transition in the core
// writes exactly one event; the table is append-only.
const (
	EventRegister         = "auth.register"
	EventLoginSuccess     = "auth.login_success"
	EventLoginFailure     = "auth.login_failure"
	EventLockout          = "auth.lockout"
	EventPasswordChanged  = "credential.changed"
	EventPasswordRejected = "credential.rejected"

	EventMfaEnrollStarted  = "mfa.enroll_started"
	EventMfaEnrolled       = "mfa.enrolled"
	EventMfaDisenrolled    = "mfa.disenrolled"
	EventMfaChallengeSent  = "mfa.challenge_sent"
	EventMfaVerifySuccess  = "mfa.verify_success"
	EventMfaVerifyFailure  = "mfa.verify_failure"
	EventMfaBackupCodeUsed = "mfa.backup_code_used"
	EventMfaCodesRotated   = "mfa.backup_codes_regenerated"

	EventSessionIssued    = "session.issued"
	EventSessionRefreshed = "session.refreshed"
	EventSessionRevoked   = "session.revoked"
	EventReplayDetected   = "session.replay_detected"

	EventVaultRotated         = "vault.rotated"
	EventVaultRotationFailure = "vault.rotation_failure"
	EventVaultDecryptFailure  = "vault.decrypt_failure"

	EventPrincipalStatusChanged = "principal.status_changed"
)

// SecurityEvent is one append-only audit record. Never mutated or deleted
// by this subsystem.
type SecurityEvent struct {
	ID          int64       `db:"id"`
	PrincipalID *string     `db:"principal_id"`
	Kind        string      `db:"kind"`
	Detail      EventDetail `db:"detail"`
	IPAddress   *string     `db:"ip_address"`
	OccurredAt  time.Time   `db:"occurred_at"`
}

// EventDetail holds additional context for security events
type EventDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetail) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetail)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = EventDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetail) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// MarshalJSON implements json.Marshaler
func (d EventDetail) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(d))
}

// UnmarshalJSON implements json.Unmarshaler
func (d *EventDetail) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = EventDetail(m)
	return nil
}
