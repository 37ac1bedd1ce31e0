package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/dogwalking/auth-service/internal/services"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext attaches verified access claims the way the bearer
// middleware would for an authenticated request.
func WithAuthContext(req *http.Request, principalID, sessionID string) *http.Request {
	claims := &models.AccessClaims{
		Type:        "access",
		PrincipalID: principalID,
		SessionID:   sessionID,
	}
	ctx := context.WithValue(req.Context(), auth.PrincipalContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// ============================================================================
// Service Mocks
// ============================================================================

// MockAuthService implements AuthServiceInterface with function fields.
type MockAuthService struct {
	RegisterFunc              func(ctx context.Context, email, password string) (*services.LoginResult, error)
	LoginFunc                 func(ctx context.Context, email, password string) (*services.LoginResult, error)
	RequestLoginChallengeFunc func(ctx context.Context, email string, method models.MfaMethod) (*models.ChallengeTicket, error)
	CompleteMfaLoginFunc      func(ctx context.Context, email string, method models.MfaMethod, code string) (*services.LoginResult, error)
	RefreshFunc               func(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	LogoutFunc                func(ctx context.Context, sessionID string) error
	ChangePasswordFunc        func(ctx context.Context, principalID, currentPassword, newPassword string) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password string) (*services.LoginResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, models.ErrInvalidCredential
}

func (m *MockAuthService) RequestLoginChallenge(ctx context.Context, email string, method models.MfaMethod) (*models.ChallengeTicket, error) {
	if m.RequestLoginChallengeFunc != nil {
		return m.RequestLoginChallengeFunc(ctx, email, method)
	}
	return nil, models.ErrNotEnrolled
}

func (m *MockAuthService) CompleteMfaLogin(ctx context.Context, email string, method models.MfaMethod, code string) (*services.LoginResult, error) {
	if m.CompleteMfaLoginFunc != nil {
		return m.CompleteMfaLoginFunc(ctx, email, method, code)
	}
	return nil, models.ErrCodeMismatch
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrInvalidToken
}

func (m *MockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockAuthService) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, principalID, currentPassword, newPassword)
	}
	return nil
}

// MockMfaManager implements MfaServiceInterface with function fields.
type MockMfaManager struct {
	EnrollFunc                func(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error)
	VerifyFunc                func(ctx context.Context, principalID string, method models.MfaMethod, code string) error
	DisenrollFunc             func(ctx context.Context, principalID string, method models.MfaMethod) error
	RegenerateBackupCodesFunc func(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error)
	StatusFunc                func(ctx context.Context, principalID string) ([]models.EnrollmentStatus, error)
}

func (m *MockMfaManager) Enroll(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error) {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(ctx, principalID, method, channel)
	}
	return nil, models.ErrInternalServer
}

func (m *MockMfaManager) Verify(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, principalID, method, code)
	}
	return models.ErrCodeMismatch
}

func (m *MockMfaManager) Disenroll(ctx context.Context, principalID string, method models.MfaMethod) error {
	if m.DisenrollFunc != nil {
		return m.DisenrollFunc(ctx, principalID, method)
	}
	return nil
}

func (m *MockMfaManager) RegenerateBackupCodes(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, principalID, method)
	}
	return nil, models.ErrNotEnrolled
}

func (m *MockMfaManager) Status(ctx context.Context, principalID string) ([]models.EnrollmentStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, principalID)
	}
	return nil, nil
}

// MockAdminManager implements AdminServiceInterface with function fields.
type MockAdminManager struct {
	RotateVaultKeysFunc    func(ctx context.Context) (*models.RotationReport, error)
	ListSecurityEventsFunc func(ctx context.Context, principalID, kind string, limit, offset int) ([]*models.SecurityEvent, error)
	ListPrincipalsFunc     func(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	GetPrincipalFunc       func(ctx context.Context, principalID string) (*models.Principal, error)
	SetPrincipalStatusFunc func(ctx context.Context, principalID, status string) error
}

func (m *MockAdminManager) RotateVaultKeys(ctx context.Context) (*models.RotationReport, error) {
	if m.RotateVaultKeysFunc != nil {
		return m.RotateVaultKeysFunc(ctx)
	}
	return &models.RotationReport{}, nil
}

func (m *MockAdminManager) ListSecurityEvents(ctx context.Context, principalID, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListSecurityEventsFunc != nil {
		return m.ListSecurityEventsFunc(ctx, principalID, kind, limit, offset)
	}
	return nil, nil
}

func (m *MockAdminManager) ListPrincipals(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	if m.ListPrincipalsFunc != nil {
		return m.ListPrincipalsFunc(ctx, limit, offset)
	}
	return nil, nil
}

func (m *MockAdminManager) GetPrincipal(ctx context.Context, principalID string) (*models.Principal, error) {
	if m.GetPrincipalFunc != nil {
		return m.GetPrincipalFunc(ctx, principalID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAdminManager) SetPrincipalStatus(ctx context.Context, principalID, status string) error {
	if m.SetPrincipalStatusFunc != nil {
		return m.SetPrincipalStatusFunc(ctx, principalID, status)
	}
	return nil
}
