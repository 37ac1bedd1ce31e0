package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dogwalking/auth-service/internal/models"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
)

// AdminServiceInterface defines the operational surface contract.
type AdminServiceInterface interface {
	RotateVaultKeys(ctx context.Context) (*models.RotationReport, error)
	ListSecurityEvents(ctx context.Context, principalID, kind string, limit, offset int) ([]*models.SecurityEvent, error)
	ListPrincipals(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	GetPrincipal(ctx context.Context, principalID string) (*models.Principal, error)
	SetPrincipalStatus(ctx context.Context, principalID, status string) error
}

// AdminHandler handles the operator endpoints. Authorization happens in the
// routing layer via the static admin token.
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// SetPrincipalStatusRequest enables or disables an account
type SetPrincipalStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

// PrincipalAdminView is the operator-facing projection of a principal,
// including the lockout mirror fields hidden from the public surface.
type PrincipalAdminView struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAdminView(p *models.Principal) *PrincipalAdminView {
	return &PrincipalAdminView{
		ID:             p.ID,
		Email:          p.Email,
		Status:         p.Status,
		FailedAttempts: p.FailedAttempts,
		LockedUntil:    p.LockedUntil,
		LastSuccessAt:  p.LastSuccessAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// SecurityEventView represents an audit record in HTTP responses
type SecurityEventView struct {
	ID          int64                  `json:"id"`
	PrincipalID *string                `json:"principal_id,omitempty"`
	Kind        string                 `json:"kind"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	IPAddress   *string                `json:"ip_address,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func toEventView(e *models.SecurityEvent) *SecurityEventView {
	return &SecurityEventView{
		ID:          e.ID,
		PrincipalID: e.PrincipalID,
		Kind:        e.Kind,
		Detail:      map[string]interface{}(e.Detail),
		IPAddress:   e.IPAddress,
		OccurredAt:  e.OccurredAt,
	}
}

// RotateVaultKeys handles POST /admin/vault/rotate. Re-encrypts every vault
// item under the active key and reports the outcome.
func (h *AdminHandler) RotateVaultKeys(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RotateVaultKeys(r.Context())
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListSecurityEvents handles GET /admin/events.
// Accepts ?principal_id= or ?kind= (not both) plus ?limit=&offset=.
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := parsePaging(query.Get("limit"), query.Get("offset"))

	events, err := h.service.ListSecurityEvents(r.Context(),
		query.Get("principal_id"), query.Get("kind"), limit, offset)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	views := make([]*SecurityEventView, 0, len(events))
	for _, e := range events {
		views = append(views, toEventView(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// ListPrincipals handles GET /admin/principals
func (h *AdminHandler) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := parsePaging(query.Get("limit"), query.Get("offset"))

	principals, err := h.service.ListPrincipals(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	views := make([]*PrincipalAdminView, 0, len(principals))
	for _, p := range principals {
		views = append(views, toAdminView(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{"principals": views})
}

// GetPrincipal handles GET /admin/principals/{id}
func (h *AdminHandler) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	principal, err := h.service.GetPrincipal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAdminView(principal))
}

// SetPrincipalStatus handles PUT /admin/principals/{id}/status. Disabling
// an account revokes all of its sessions.
func (h *AdminHandler) SetPrincipalStatus(w http.ResponseWriter, r *http.Request) {
	var req SetPrincipalStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SetPrincipalStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parsePaging reads limit/offset query values; the services clamp ranges.
func parsePaging(limitStr, offsetStr string) (int, int) {
	limit, offset := 0, 0
	if n, err := strconv.Atoi(limitStr); err == nil {
		limit = n
	}
	if n, err := strconv.Atoi(offsetStr); err == nil {
		offset = n
	}
	return limit, offset
}
