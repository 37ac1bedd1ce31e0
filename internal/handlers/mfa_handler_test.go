package handlers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/auth-service/internal/models"
)

// mountMfaRoutes wires the handler into a router so URL params resolve.
func mountMfaRoutes(h *MfaHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/mfa/enroll", h.Enroll)
	r.Post("/mfa/enroll/verify", h.VerifyEnrollment)
	r.Delete("/mfa/{method}", h.Disenroll)
	r.Post("/mfa/backup-codes/regenerate", h.RegenerateBackupCodes)
	r.Get("/mfa/status", h.Status)
	return r
}

// ============================================================================
// Enroll Tests
// ============================================================================

func TestMfaHandler_Enroll_TOTP(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		EnrollFunc: func(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error) {
			assert.Equal(t, "prin_1", principalID)
			assert.Equal(t, models.MfaMethodTOTP, method)
			return &models.EnrollmentPayload{
				EnrollmentID: "enr_1",
				Method:       "totp",
				Secret:       "JBSWY3DPEHPK3PXP",
				OtpauthURL:   "otpauth://totp/DogWalking:walker@example.com",
				QRCode:       "data:image/png;base64,xxxx",
				BackupCodes:  []string{"aaaa-bbbb", "cccc-dddd"},
			}, nil
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/enroll", EnrollRequest{Method: "totp"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	var payload models.EnrollmentPayload
	AssertJSONResponse(t, w, 201, &payload)
	assert.Equal(t, "enr_1", payload.EnrollmentID)
	assert.Len(t, payload.BackupCodes, 2)
}

func TestMfaHandler_Enroll_UnknownMethod(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{})

	req := NewTestRequest(t, "POST", "/mfa/enroll", map[string]string{"method": "carrier_pigeon"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 400, "bad_request")
}

func TestMfaHandler_Enroll_AlreadyEnrolled(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		EnrollFunc: func(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error) {
			return nil, models.ErrConflict
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/enroll", EnrollRequest{Method: "totp"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 409, "conflict")
}

func TestMfaHandler_Enroll_Unauthenticated(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{})

	req := NewTestRequest(t, "POST", "/mfa/enroll", EnrollRequest{Method: "totp"})
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 401, "unauthorized")
}

// ============================================================================
// Enrollment Verification Tests
// ============================================================================

func TestMfaHandler_VerifyEnrollment_Success(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			assert.Equal(t, "654321", code)
			return nil
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/enroll/verify", EnrollVerifyRequest{
		Method: "totp",
		Code:   "654321",
	})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	var resp EnrollVerifyResponse
	AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Verified)
	assert.Equal(t, "totp", resp.Method)
}

func TestMfaHandler_VerifyEnrollment_ExpiredCode(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			return models.ErrCodeExpired
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/enroll/verify", EnrollVerifyRequest{
		Method: "email",
		Code:   "654321",
	})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 401, "code_expired")
}

func TestMfaHandler_VerifyEnrollment_LockedThrottle(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			return &models.AccountLockedError{RetryAfter: 10 * time.Minute}
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/enroll/verify", EnrollVerifyRequest{
		Method: "totp",
		Code:   "000000",
	})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 429, "account_locked")
	assert.Equal(t, "600", w.Header().Get("Retry-After"))
}

// ============================================================================
// Disenroll Tests
// ============================================================================

func TestMfaHandler_Disenroll_RequiresFreshCode(t *testing.T) {
	verifyCalled := false
	disenrollCalled := false
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			verifyCalled = true
			assert.Equal(t, models.MfaMethodTOTP, method)
			assert.Equal(t, "123456", code)
			return nil
		},
		DisenrollFunc: func(ctx context.Context, principalID string, method models.MfaMethod) error {
			disenrollCalled = true
			require.True(t, verifyCalled, "code must be verified before removal")
			return nil
		},
	})

	req := NewTestRequest(t, "DELETE", "/mfa/totp", DisenrollRequest{Code: "123456"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	assert.Equal(t, 204, w.Code)
	assert.True(t, disenrollCalled)
}

func TestMfaHandler_Disenroll_WrongCodeBlocksRemoval(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			return models.ErrCodeMismatch
		},
		DisenrollFunc: func(ctx context.Context, principalID string, method models.MfaMethod) error {
			t.Fatal("disenroll must not run after a failed verification")
			return nil
		},
	})

	req := NewTestRequest(t, "DELETE", "/mfa/totp", DisenrollRequest{Code: "999999"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 401, "code_mismatch")
}

func TestMfaHandler_Disenroll_UnknownMethodInPath(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{})

	req := NewTestRequest(t, "DELETE", "/mfa/pigeon", DisenrollRequest{Code: "123456"})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 400, "bad_request")
}

func TestMfaHandler_Disenroll_MissingCode(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			t.Fatal("verification must not run without a code")
			return nil
		},
	})

	req := NewTestRequest(t, "DELETE", "/mfa/totp", map[string]string{})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 400, "bad_request")
}

// ============================================================================
// Backup Code Regeneration Tests
// ============================================================================

func TestMfaHandler_RegenerateBackupCodes_Success(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			return nil
		},
		RegenerateBackupCodesFunc: func(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error) {
			return []string{"eeee-ffff", "gggg-hhhh"}, nil
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/backup-codes/regenerate", RegenerateBackupCodesRequest{
		Method: "totp",
		Code:   "123456",
	})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	var resp RegenerateBackupCodesResponse
	AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, []string{"eeee-ffff", "gggg-hhhh"}, resp.BackupCodes)
}

func TestMfaHandler_RegenerateBackupCodes_WrongCode(t *testing.T) {
	handler := NewMfaHandler(&MockMfaManager{
		VerifyFunc: func(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
			return models.ErrCodeMismatch
		},
		RegenerateBackupCodesFunc: func(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error) {
			t.Fatal("codes must not rotate after a failed verification")
			return nil, nil
		},
	})

	req := NewTestRequest(t, "POST", "/mfa/backup-codes/regenerate", RegenerateBackupCodesRequest{
		Method: "totp",
		Code:   "999999",
	})
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	AssertErrorResponse(t, w, 401, "code_mismatch")
}

// ============================================================================
// Status Tests
// ============================================================================

func TestMfaHandler_Status_ListsEnrollments(t *testing.T) {
	now := time.Now()
	handler := NewMfaHandler(&MockMfaManager{
		StatusFunc: func(ctx context.Context, principalID string) ([]models.EnrollmentStatus, error) {
			return []models.EnrollmentStatus{
				{Method: "totp", Verified: true, EnrolledAt: now, BackupCodesUnused: 6},
				{Method: "sms", Verified: false, EnrolledAt: now},
			}, nil
		},
	})

	req := NewTestRequest(t, "GET", "/mfa/status", nil)
	req = WithAuthContext(req, "prin_1", "sess_1")
	w := httptest.NewRecorder()

	mountMfaRoutes(handler).ServeHTTP(w, req)

	var resp struct {
		Methods []models.EnrollmentStatus `json:"methods"`
	}
	AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp.Methods, 2)
	assert.Equal(t, 6, resp.Methods[0].BackupCodesUnused)
	assert.False(t, resp.Methods[1].Verified)
}
