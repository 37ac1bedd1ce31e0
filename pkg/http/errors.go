package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dogwalking/auth-service/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteServiceError maps the service-layer error taxonomy onto wire
// responses in one place. Credential mismatches, unknown accounts and
// disabled accounts all collapse into the same 401 so the response body
// never reveals which one occurred. Lockouts carry a Retry-After header.
func WriteServiceError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	var policy *models.PolicyViolationError

	switch {
	case errors.As(err, &locked):
		seconds := int(math.Ceil(locked.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		WriteError(w, http.StatusTooManyRequests, "account_locked",
			"Too many failed attempts. Please try again later.")

	case errors.As(err, &policy):
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, "password_policy",
			"Password does not meet the policy", policy.Reason)

	case errors.Is(err, models.ErrInvalidCredential),
		errors.Is(err, models.ErrPrincipalDisabled),
		errors.Is(err, models.ErrUnauthorized):
		WriteUnauthorized(w, "Authentication failed")

	case errors.Is(err, models.ErrCodeExpired):
		WriteError(w, http.StatusUnauthorized, "code_expired", "Verification code expired")

	case errors.Is(err, models.ErrCodeMismatch):
		WriteError(w, http.StatusUnauthorized, "code_mismatch", "Verification code mismatch")

	case errors.Is(err, models.ErrReplayDetected):
		WriteError(w, http.StatusUnauthorized, "token_reuse_detected",
			"Refresh token reuse detected. All sessions for this account have been revoked.")

	case errors.Is(err, models.ErrSessionRevoked),
		errors.Is(err, models.ErrSessionExpired),
		errors.Is(err, models.ErrInvalidToken):
		WriteUnauthorized(w, "Invalid or expired token")

	case errors.Is(err, models.ErrNotEnrolled):
		WriteError(w, http.StatusBadRequest, "not_enrolled", "MFA method not enrolled")

	case errors.Is(err, models.ErrChallengeNotRequired):
		WriteError(w, http.StatusBadRequest, "challenge_not_required",
			"This method does not use server-issued codes")

	case errors.Is(err, models.ErrUnknownMethod):
		WriteBadRequest(w, "Unknown MFA method")

	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Resource already exists")

	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Resource not found")

	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "Forbidden")

	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")

	default:
		WriteInternalError(w, "Internal server error")
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
