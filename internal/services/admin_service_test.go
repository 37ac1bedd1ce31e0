package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
)

func newTestAdminService(
	principals *MockPrincipalRepository,
	sessionRepo *MockSessionRepository,
	rotator *MockVaultRotator,
) (*AdminService, *MockSecurityEventRepository) {
	audit, events := newCaptureAudit()
	logger := slog.Default()

	tm := auth.NewTokenManager("test-secret-key-for-signing", "auth-test", 15*time.Minute)
	sessions := NewSessionService(sessionRepo, tm, audit, SessionConfig{
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}, logger)

	return NewAdminService(principals, sessions, rotator, audit, logger), events
}

// ============================================================================
// RotateVaultKeys Tests
// ============================================================================

func TestAdminService_RotateVaultKeys_ReturnsReport(t *testing.T) {
	rotator := &MockVaultRotator{
		RotateFunc: func(ctx context.Context) (*models.RotationReport, error) {
			return &models.RotationReport{ActiveVersion: 3, Scanned: 10, Rotated: 7, Skipped: 3}, nil
		},
	}
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, rotator)

	report, err := service.RotateVaultKeys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.ActiveVersion)
	assert.Equal(t, 7, report.Rotated)
}

func TestAdminService_RotateVaultKeys_Failure(t *testing.T) {
	rotator := &MockVaultRotator{
		RotateFunc: func(ctx context.Context) (*models.RotationReport, error) {
			return nil, errors.New("key ring unavailable")
		},
	}
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, rotator)

	report, err := service.RotateVaultKeys(context.Background())

	assert.Nil(t, report)
	assert.Equal(t, models.ErrInternalServer, err)
}

// ============================================================================
// ListSecurityEvents Tests
// ============================================================================

func TestAdminService_ListSecurityEvents_DispatchesFilters(t *testing.T) {
	service, events := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, &MockVaultRotator{})

	var byPrincipal, byKind, all bool
	events.GetByPrincipalIDFunc = func(ctx context.Context, principalID string, limit, offset int) ([]*models.SecurityEvent, error) {
		byPrincipal = true
		return nil, nil
	}
	events.GetByKindFunc = func(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
		byKind = true
		return nil, nil
	}
	events.ListFunc = func(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
		all = true
		return nil, nil
	}

	_, err := service.ListSecurityEvents(context.Background(), "prin_1", "", 10, 0)
	require.NoError(t, err)
	assert.True(t, byPrincipal)

	_, err = service.ListSecurityEvents(context.Background(), "", models.EventLoginFailure, 10, 0)
	require.NoError(t, err)
	assert.True(t, byKind)

	_, err = service.ListSecurityEvents(context.Background(), "", "", 10, 0)
	require.NoError(t, err)
	assert.True(t, all)
}

func TestAdminService_ListSecurityEvents_BothFiltersRejected(t *testing.T) {
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, &MockVaultRotator{})

	result, err := service.ListSecurityEvents(context.Background(), "prin_1", models.EventLoginFailure, 10, 0)

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, models.ErrBadRequest))
}

// ============================================================================
// Principal Management Tests
// ============================================================================

func TestAdminService_ListPrincipals_ClampsPage(t *testing.T) {
	var gotLimit, gotOffset int
	principals := &MockPrincipalRepository{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
			gotLimit, gotOffset = limit, offset
			return []*models.Principal{}, nil
		},
	}
	service, _ := newTestAdminService(principals, &MockSessionRepository{}, &MockVaultRotator{})

	_, err := service.ListPrincipals(context.Background(), -5, -1)

	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestAdminService_GetPrincipal_NotFound(t *testing.T) {
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, &MockVaultRotator{})

	principal, err := service.GetPrincipal(context.Background(), "prin_ghost")

	assert.Nil(t, principal)
	assert.Equal(t, models.ErrNotFound, err)
}

func TestAdminService_SetPrincipalStatus_DisableRevokesSessions(t *testing.T) {
	principal := NewTestPrincipal("prin_1", "walker@example.com")
	statusWritten := ""
	principals := &MockPrincipalRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Principal, error) {
			return principal, nil
		},
		UpdateStatusFunc: func(ctx context.Context, id, status string) error {
			statusWritten = status
			return nil
		},
	}

	revokedReason := ""
	sessionRepo := &MockSessionRepository{
		RevokeAllForPrincipalFunc: func(ctx context.Context, principalID, reason string) (int64, error) {
			revokedReason = reason
			return 2, nil
		},
	}
	service, events := newTestAdminService(principals, sessionRepo, &MockVaultRotator{})

	err := service.SetPrincipalStatus(context.Background(), "prin_1", models.PrincipalStatusDisabled)

	require.NoError(t, err)
	assert.Equal(t, models.PrincipalStatusDisabled, statusWritten)
	assert.Equal(t, models.RevokeReasonAdmin, revokedReason)
	require.True(t, events.Has(models.EventPrincipalStatusChanged))

	for _, event := range events.CreatedEvents {
		if event.Kind == models.EventPrincipalStatusChanged {
			assert.Equal(t, models.PrincipalStatusActive, event.Detail["from"])
			assert.Equal(t, models.PrincipalStatusDisabled, event.Detail["to"])
		}
	}
}

func TestAdminService_SetPrincipalStatus_ReenableKeepsSessionsUntouched(t *testing.T) {
	principal := NewTestPrincipalDisabled("prin_1", "walker@example.com")
	principals := &MockPrincipalRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Principal, error) {
			return principal, nil
		},
	}
	sessionRepo := &MockSessionRepository{
		RevokeAllForPrincipalFunc: func(ctx context.Context, principalID, reason string) (int64, error) {
			t.Fatal("re-enabling must not touch sessions")
			return 0, nil
		},
	}
	service, events := newTestAdminService(principals, sessionRepo, &MockVaultRotator{})

	err := service.SetPrincipalStatus(context.Background(), "prin_1", models.PrincipalStatusActive)

	require.NoError(t, err)
	assert.True(t, events.Has(models.EventPrincipalStatusChanged))
}

func TestAdminService_SetPrincipalStatus_NoOpWhenUnchanged(t *testing.T) {
	principal := NewTestPrincipal("prin_1", "walker@example.com")
	principals := &MockPrincipalRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Principal, error) {
			return principal, nil
		},
		UpdateStatusFunc: func(ctx context.Context, id, status string) error {
			t.Fatal("no write expected for an unchanged status")
			return nil
		},
	}
	service, events := newTestAdminService(principals, &MockSessionRepository{}, &MockVaultRotator{})

	err := service.SetPrincipalStatus(context.Background(), "prin_1", models.PrincipalStatusActive)

	require.NoError(t, err)
	assert.Empty(t, events.CreatedEvents)
}

func TestAdminService_SetPrincipalStatus_UnknownStatus(t *testing.T) {
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, &MockVaultRotator{})

	err := service.SetPrincipalStatus(context.Background(), "prin_1", "suspended")

	assert.True(t, errors.Is(err, models.ErrBadRequest))
}

func TestAdminService_SetPrincipalStatus_UnknownPrincipal(t *testing.T) {
	service, _ := newTestAdminService(&MockPrincipalRepository{}, &MockSessionRepository{}, &MockVaultRotator{})

	err := service.SetPrincipalStatus(context.Background(), "prin_ghost", models.PrincipalStatusDisabled)

	assert.Equal(t, models.ErrNotFound, err)
}
