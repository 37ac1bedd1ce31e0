package integration

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/auth-service/internal/repositories"
	"github.com/dogwalking/auth-service/internal/services"
	"github.com/dogwalking/auth-service/internal/vault"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

type principalView struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	resetState(t)

	resp, err := testServer.Request(http.MethodGet, "/api/v1/admin/principals", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = testServer.Request(http.MethodGet, "/api/v1/admin/principals", nil,
		map[string]string{"X-Admin-Token": "not-the-token"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = testServer.RequestAsAdmin(http.MethodGet, "/api/v1/admin/principals", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVaultRotation_ReEncryptsStaleItems(t *testing.T) {
	resetState(t)
	ctx := context.Background()
	const probeRef = "totp/rotation-probe"
	probeSecret := []byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")

	// Seed an item under the retired key version, the way a pre-rotation
	// deployment would have written it
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	itemRepo := repositories.NewVaultItemRepository(testDB.DB)
	eventRepo := repositories.NewSecurityEventRepository(testDB.DB)
	audit := services.NewAuditService(eventRepo, pkglogger.NewAuditLogger(logger), logger)

	oldRing, err := vault.NewKeyRing(map[int][]byte{1: VaultKeyV1}, 1)
	require.NoError(t, err)
	oldVault := vault.New(oldRing, itemRepo, audit, logger)

	_, err = oldVault.Put(ctx, probeRef, probeSecret)
	require.NoError(t, err)

	var version int
	err = testDB.Pool.QueryRow(ctx,
		`SELECT key_version FROM vault_items WHERE ref = $1`, probeRef).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// Rotation moves it to the active version
	resp, err := testServer.RequestAsAdmin(http.MethodPost, "/api/v1/admin/vault/rotate", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		ActiveVersion int      `json:"active_version"`
		Scanned       int      `json:"scanned"`
		Rotated       int      `json:"rotated"`
		Failed        int      `json:"failed"`
		FailedRefs    []string `json:"failed_refs"`
	}
	require.NoError(t, ParseJSONResponse(resp, &report))
	assert.Equal(t, 2, report.ActiveVersion)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Rotated)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.FailedRefs)

	err = testDB.Pool.QueryRow(ctx,
		`SELECT key_version FROM vault_items WHERE ref = $1`, probeRef).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// The plaintext survived the re-encryption
	fullRing, err := vault.NewKeyRing(map[int][]byte{1: VaultKeyV1, 2: VaultKeyV2}, 2)
	require.NoError(t, err)
	probe := vault.New(fullRing, itemRepo, audit, logger)

	plaintext, err := probe.Get(ctx, probeRef)
	require.NoError(t, err)
	assert.Equal(t, probeSecret, plaintext)

	// Nothing left to rotate on a second pass
	resp, err = testServer.RequestAsAdmin(http.MethodPost, "/api/v1/admin/vault/rotate", nil)
	require.NoError(t, err)
	require.NoError(t, ParseJSONResponse(resp, &report))
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Rotated)

	var rotationEvents int
	err = testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE kind = 'vault.rotated'`).Scan(&rotationEvents)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rotationEvents, 1)
}

func TestAdminPrincipalLifecycle(t *testing.T) {
	resetState(t)
	ctx := context.Background()
	email, password, tokens := registerAccount(t, "lifecycle")

	// The account shows up in the listing
	resp, err := testServer.RequestAsAdmin(http.MethodGet, "/api/v1/admin/principals?limit=10", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Principals []principalView `json:"principals"`
	}
	require.NoError(t, ParseJSONResponse(resp, &listing))
	require.Len(t, listing.Principals, 1)
	assert.Equal(t, email, listing.Principals[0].Email)
	assert.Equal(t, "active", listing.Principals[0].Status)
	principalID := listing.Principals[0].ID

	resp, err = testServer.RequestAsAdmin(http.MethodGet, "/api/v1/admin/principals/"+principalID, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched principalView
	require.NoError(t, ParseJSONResponse(resp, &fetched))
	assert.Equal(t, email, fetched.Email)

	// Disabling kills logins and live sessions alike
	resp, err = testServer.RequestAsAdmin(http.MethodPut, "/api/v1/admin/principals/"+principalID+"/status",
		map[string]string{"status": "disabled"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/token/refresh",
		map[string]string{"refresh_token": tokens.RefreshToken}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	n, err := CountEvents(ctx, testDB.Pool, principalID, "principal.status_changed")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	// Re-enabling restores access
	resp, err = testServer.RequestAsAdmin(http.MethodPut, "/api/v1/admin/principals/"+principalID+"/status",
		map[string]string{"status": "active"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminPrincipalStatus_Validation(t *testing.T) {
	resetState(t)

	resp, err := testServer.RequestAsAdmin(http.MethodPut, "/api/v1/admin/principals/some-id/status",
		map[string]string{"status": "suspended"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = testServer.RequestAsAdmin(http.MethodPut,
		"/api/v1/admin/principals/00000000-0000-0000-0000-000000000000/status",
		map[string]string{"status": "disabled"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEvents_FilterRules(t *testing.T) {
	resetState(t)
	email, _, _ := registerAccount(t, "events")

	// One failed login to give the trail something to show
	resp, err := testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": "Wrong&Pass2026ok"}, nil)
	require.NoError(t, err)
	resp.Body.Close()

	var principalID string
	err = testDB.Pool.QueryRow(context.Background(),
		`SELECT id FROM principals WHERE email = $1`, email).Scan(&principalID)
	require.NoError(t, err)

	// Filter by principal
	resp, err = testServer.RequestAsAdmin(http.MethodGet,
		"/api/v1/admin/events?principal_id="+principalID, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trail struct {
		Events []struct {
			Kind        string  `json:"kind"`
			PrincipalID *string `json:"principal_id"`
		} `json:"events"`
	}
	require.NoError(t, ParseJSONResponse(resp, &trail))
	require.NotEmpty(t, trail.Events)

	kinds := make(map[string]bool)
	for _, e := range trail.Events {
		require.NotNil(t, e.PrincipalID)
		assert.Equal(t, principalID, *e.PrincipalID)
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["auth.register"])
	assert.True(t, kinds["auth.login_failure"])

	// Filter by kind
	resp, err = testServer.RequestAsAdmin(http.MethodGet,
		"/api/v1/admin/events?kind=auth.login_failure", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	trail.Events = nil
	require.NoError(t, ParseJSONResponse(resp, &trail))
	require.NotEmpty(t, trail.Events)
	for _, e := range trail.Events {
		assert.Equal(t, "auth.login_failure", e.Kind)
	}

	// Both filters at once are rejected
	resp, err = testServer.RequestAsAdmin(http.MethodGet,
		"/api/v1/admin/events?principal_id="+principalID+"&kind=auth.login_failure", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
