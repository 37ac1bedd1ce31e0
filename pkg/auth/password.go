package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost        = 14 // OWASP 2026 recommendation - stronger than cost 12 (Feb 2026)
	OpaqueTokenLength = 32 // 256 bits

	defaultMinPasswordLen = 8
	maxPasswordLen        = 72 // bcrypt reads at most 72 bytes of input
)

// PasswordPolicy carries the configurable length bounds. Character-class and
// common-password checks always apply. MaxLength can only tighten the bcrypt
// input limit, never exceed it.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

func (p PasswordPolicy) normalized() PasswordPolicy {
	if p.MinLength <= 0 {
		p.MinLength = defaultMinPasswordLen
	}
	if p.MaxLength <= 0 || p.MaxLength > maxPasswordLen {
		p.MaxLength = maxPasswordLen
	}
	return p
}

// PasswordValidationError holds the individual policy failures
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "password " + strings.Join(e.Errors, "; ")
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateOpaqueToken returns a URL-safe random token for refresh credentials
func GenerateOpaqueToken() (string, error) {
	bytes := make([]byte, OpaqueTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ValidatePassword enforces the password policy
func ValidatePassword(password string, policy PasswordPolicy) error {
	policy = policy.normalized()
	errors := make([]string, 0)

	// Check length
	if len(password) < policy.MinLength {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", policy.MinLength))
	}
	if len(password) > policy.MaxLength {
		errors = append(errors, fmt.Sprintf("must be at most %d characters", policy.MaxLength))
	}

	// Check character requirements
	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}
	if !hasSpecial {
		errors = append(errors, "must contain at least one special character")
	}

	// Check against common passwords (case-insensitive)
	if commonPasswords[strings.ToLower(password)] {
		errors = append(errors, "is too common, please choose a more unique password")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}
