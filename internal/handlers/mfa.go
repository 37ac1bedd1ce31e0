package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
)

// MfaServiceInterface defines the interface for second-factor management
type MfaServiceInterface interface {
	Enroll(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error)
	Verify(ctx context.Context, principalID string, method models.MfaMethod, code string) error
	Disenroll(ctx context.Context, principalID string, method models.MfaMethod) error
	RegenerateBackupCodes(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error)
	Status(ctx context.Context, principalID string) ([]models.EnrollmentStatus, error)
}

// MfaHandler handles enrollment-management HTTP requests. All routes are
// bearer-authenticated; destructive ones additionally demand a fresh code.
type MfaHandler struct {
	service MfaServiceInterface
}

// NewMfaHandler creates a new MfaHandler
func NewMfaHandler(service MfaServiceInterface) *MfaHandler {
	return &MfaHandler{service: service}
}

// Enroll handles POST /mfa/enroll
func (h *MfaHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EnrollRequest
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

	payload, err := h.service.Enroll(r.Context(), claims.PrincipalID, method, req.Channel)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, payload)
}

// VerifyEnrollment handles POST /mfa/enroll/verify. The first successful
// verification moves the enrollment from pending to usable.
func (h *MfaHandler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EnrollVerifyRequest
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

	if err := h.service.Verify(r.Context(), claims.PrincipalID, method, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EnrollVerifyResponse{
		Method:   string(method),
		Verified: true,
	})
}

// Disenroll handles DELETE /mfa/{method}. The body must carry a fresh code
// for a still-enrolled method; a bearer token alone is not enough to turn
// off a second factor.
func (h *MfaHandler) Disenroll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	method, err := models.ParseMfaMethod(chi.URLParam(r, "method"))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	var req DisenrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Verify(r.Context(), claims.PrincipalID, method, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	if err := h.service.Disenroll(r.Context(), claims.PrincipalID, method); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes handles POST /mfa/backup-codes/regenerate. Requires
// a fresh code for the method; returns the replacement set exactly once.
func (h *MfaHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RegenerateBackupCodesRequest
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

	if err := h.service.Verify(r.Context(), claims.PrincipalID, method, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.PrincipalID, method)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RegenerateBackupCodesResponse{BackupCodes: codes})
}

// Status handles GET /mfa/status
func (h *MfaHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetPrincipalFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	statuses, err := h.service.Status(r.Context(), claims.PrincipalID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"methods": statuses})
}
