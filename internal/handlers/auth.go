package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/dogwalking/auth-service/internal/services"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
)

// AuthServiceInterface defines the interface for the login handshake
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*services.LoginResult, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	RequestLoginChallenge(ctx context.Context, email string, method models.MfaMethod) (*models.ChallengeTicket, error)
	CompleteMfaLogin(ctx context.Context, email string, method models.MfaMethod, code string) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, sessionID string) error
	ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error
}

// AuthHandler handles the authentication surface
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MfaChallengeRequest asks for a one-time code during the login handshake
type MfaChallengeRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Method string `json:"method" validate:"required,oneof=sms email"`
}

// MfaVerifyRequest completes the login handshake with a second factor
type MfaVerifyRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Method string `json:"method" validate:"required,oneof=totp sms email"`
	Code   string `json:"code" validate:"required,min=4,max=64"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is accepted for client convenience; the session to revoke
// always comes from the bearer token's claims.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// AuthResponse is the handshake result: either a token pair, or a signal
// that a second factor is still owed.
type AuthResponse struct {
	MfaRequired bool              `json:"mfa_required"`
	MfaMethods  []string          `json:"mfa_methods,omitempty"`
	Tokens      *models.TokenPair `json:"tokens,omitempty"`
	Principal   *PrincipalInfo    `json:"principal,omitempty"`
}

// PrincipalInfo is the client-safe slice of a principal
type PrincipalInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func toAuthResponse(result *services.LoginResult) *AuthResponse {
	resp := &AuthResponse{
		MfaRequired: result.MfaRequired,
		Tokens:      result.Tokens,
	}
	for _, m := range result.Methods {
		resp.MfaMethods = append(resp.MfaMethods, string(m))
	}
	if result.Principal != nil {
		resp.Principal = &PrincipalInfo{
			ID:    result.Principal.ID,
			Email: result.Principal.Email,
		}
	}
	return resp
}

// Register handles account creation
// @Summary Register a new account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} AuthResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(result))
}

// Login handles the first step of the login handshake
// @Summary Log in with email and password
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// MfaChallenge requests a one-time code for the second step of the login
// handshake. SMS and EMAIL only; TOTP codes are computed on the client.
func (h *AuthHandler) MfaChallenge(w http.ResponseWriter, r *http.Request) {
	var req MfaChallengeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	method, err := models.ParseMfaMethod(req.Method)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	ticket, err := h.service.RequestLoginChallenge(r.Context(), req.Email, method)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ticket)
}

// MfaVerify completes the login handshake with a second-factor code
func (h *AuthHandler) MfaVerify(w http.ResponseWriter, r *http.Request) {
	var req MfaVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	method, err := models.ParseMfaMethod(req.Method)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	result, err := h.service.CompleteMfaLogin(r.Context(), req.Email, method, req.Code)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// RefreshToken rotates a refresh token
// @Summary Refresh the token pair
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 401 {object} ErrorResponse
// @Router /auth/token/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout revokes the bearer's session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	// Body is optional and its content does not change which session dies.
	var req LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Logout(r.Context(), claims.SessionID); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword rotates the bearer's password. All sessions are revoked on
// success, including the one making this request.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
