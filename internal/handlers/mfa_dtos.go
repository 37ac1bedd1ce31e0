package handlers

// MFA Enrollment DTOs

// EnrollRequest starts enrollment of a second-factor method. Channel is the
// destination address for sms/email; TOTP needs none.
type EnrollRequest struct {
	Method  string `json:"method" validate:"required,oneof=totp sms email"`
	Channel string `json:"channel" validate:"omitempty,max=255"`
}

// EnrollVerifyRequest confirms a pending enrollment with a first code
type EnrollVerifyRequest struct {
	Method string `json:"method" validate:"required,oneof=totp sms email"`
	Code   string `json:"code" validate:"required,min=4,max=64"`
}

// EnrollVerifyResponse confirms the enrollment is now usable for login
type EnrollVerifyResponse struct {
	Method   string `json:"method"`
	Verified bool   `json:"verified"`
}

// DisenrollRequest removes a method. A fresh second-factor code is required
// so a hijacked session cannot silently strip MFA from the account.
type DisenrollRequest struct {
	Code string `json:"code" validate:"required,min=4,max=64"`
}

// RegenerateBackupCodesRequest replaces the backup code set for a method
type RegenerateBackupCodesRequest struct {
	Method string `json:"method" validate:"required,oneof=totp sms email"`
	Code   string `json:"code" validate:"required,min=4,max=64"`
}

// RegenerateBackupCodesResponse carries the one-time plaintext codes
type RegenerateBackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}
