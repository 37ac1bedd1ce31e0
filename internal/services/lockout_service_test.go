package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/auth-service/internal/models"
)

func newTestLockoutService(repo LockoutRepository) (*LockoutService, *MockSecurityEventRepository) {
	audit, events := newCaptureAudit()
	config := LockoutConfig{
		Threshold:    5,
		BaseDuration: 5 * time.Minute,
		MaxDuration:  24 * time.Hour,
	}
	return NewLockoutService(repo, audit, config, slog.Default()), events
}

// ============================================================================
// CheckOpen Tests
// ============================================================================

func TestLockoutService_CheckOpen_NoState(t *testing.T) {
	repo := &MockLockoutRepository{}
	service, _ := newTestLockoutService(repo)

	err := service.CheckOpen(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.NoError(t, err)
}

func TestLockoutService_CheckOpen_BelowThreshold(t *testing.T) {
	repo := &MockLockoutRepository{
		GetFunc: func(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
			return NewTestLockoutState(principalID, scope, 3), nil
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.CheckOpen(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.NoError(t, err)
}

func TestLockoutService_CheckOpen_Locked(t *testing.T) {
	repo := &MockLockoutRepository{
		GetFunc: func(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
			return NewTestLockoutStateLocked(principalID, scope, 1, 4*time.Minute), nil
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.CheckOpen(context.Background(), "prin_1", models.LockoutScopePassword)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAccountLocked))

	var lockedErr *models.AccountLockedError
	require.True(t, errors.As(err, &lockedErr))
	assert.Greater(t, lockedErr.RetryAfter, 3*time.Minute)
	assert.LessOrEqual(t, lockedErr.RetryAfter, 4*time.Minute)
}

func TestLockoutService_CheckOpen_ExpiredLockIsOpen(t *testing.T) {
	repo := &MockLockoutRepository{
		GetFunc: func(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
			return NewTestLockoutStateLocked(principalID, scope, 1, -time.Minute), nil
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.CheckOpen(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.NoError(t, err)
}

func TestLockoutService_CheckOpen_StorageErrorFailsClosed(t *testing.T) {
	repo := &MockLockoutRepository{
		GetFunc: func(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
			return nil, errors.New("connection refused")
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.CheckOpen(context.Background(), "prin_1", models.LockoutScopePassword)

	require.Error(t, err)
	assert.Equal(t, models.ErrInternalServer, err)
}

// ============================================================================
// RecordFailure Tests
// ============================================================================

func TestLockoutService_RecordFailure_BelowThreshold(t *testing.T) {
	repo := &MockLockoutRepository{
		RecordFailureFunc: func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
			return NewTestLockoutState(principalID, scope, 2), nil
		},
	}
	service, events := newTestLockoutService(repo)

	state, err := service.RecordFailure(context.Background(), "prin_1", models.LockoutScopePassword)

	require.NoError(t, err)
	assert.Equal(t, 2, state.FailedAttempts)
	assert.False(t, state.Locked(time.Now()))
	assert.False(t, events.Has(models.EventLockout))
}

func TestLockoutService_RecordFailure_TripEmitsLockoutEvent(t *testing.T) {
	repo := &MockLockoutRepository{
		RecordFailureFunc: func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
			return NewTestLockoutStateLocked(principalID, scope, 1, base), nil
		},
	}
	service, events := newTestLockoutService(repo)

	state, err := service.RecordFailure(context.Background(), "prin_1", models.LockoutScopePassword)

	require.NoError(t, err)
	assert.True(t, state.Locked(time.Now()))
	require.True(t, events.Has(models.EventLockout))

	event := events.CreatedEvents[0]
	require.NotNil(t, event.PrincipalID)
	assert.Equal(t, "prin_1", *event.PrincipalID)
	assert.Equal(t, models.LockoutScopePassword, event.Detail["scope"])
}

func TestLockoutService_RecordFailure_AlreadyLockedDoesNotReEmit(t *testing.T) {
	// Counting a failure against an already-locked scope returns the locked
	// state with its counter still zeroed only on the trip itself; here the
	// repository reports one attempt accumulated during the lock.
	repo := &MockLockoutRepository{
		RecordFailureFunc: func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
			state := NewTestLockoutStateLocked(principalID, scope, 1, base)
			state.FailedAttempts = 1
			return state, nil
		},
	}
	service, events := newTestLockoutService(repo)

	_, err := service.RecordFailure(context.Background(), "prin_1", models.LockoutScopePassword)

	require.NoError(t, err)
	assert.False(t, events.Has(models.EventLockout))
}

func TestLockoutService_RecordFailure_StorageError(t *testing.T) {
	repo := &MockLockoutRepository{
		RecordFailureFunc: func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
			return nil, errors.New("connection refused")
		},
	}
	service, _ := newTestLockoutService(repo)

	state, err := service.RecordFailure(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.Nil(t, state)
	assert.Equal(t, models.ErrInternalServer, err)
}

func TestLockoutService_RecordFailure_PassesConfiguredLadder(t *testing.T) {
	var gotThreshold int
	var gotBase, gotMax time.Duration

	repo := &MockLockoutRepository{
		RecordFailureFunc: func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
			gotThreshold = threshold
			gotBase = base
			gotMax = max
			return NewTestLockoutState(principalID, scope, 1), nil
		},
	}
	service, _ := newTestLockoutService(repo)

	_, err := service.RecordFailure(context.Background(), "prin_1", models.MfaLockoutScope(models.MfaMethodTOTP))

	require.NoError(t, err)
	assert.Equal(t, 5, gotThreshold)
	assert.Equal(t, 5*time.Minute, gotBase)
	assert.Equal(t, 24*time.Hour, gotMax)
}

// ============================================================================
// RecordSuccess Tests
// ============================================================================

func TestLockoutService_RecordSuccess_Resets(t *testing.T) {
	called := false
	repo := &MockLockoutRepository{
		RecordSuccessFunc: func(ctx context.Context, principalID, scope string) error {
			called = true
			assert.Equal(t, "prin_1", principalID)
			assert.Equal(t, models.LockoutScopePassword, scope)
			return nil
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.RecordSuccess(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestLockoutService_RecordSuccess_StorageError(t *testing.T) {
	repo := &MockLockoutRepository{
		RecordSuccessFunc: func(ctx context.Context, principalID, scope string) error {
			return errors.New("connection refused")
		},
	}
	service, _ := newTestLockoutService(repo)

	err := service.RecordSuccess(context.Background(), "prin_1", models.LockoutScopePassword)

	assert.Equal(t, models.ErrInternalServer, err)
}

// ============================================================================
// Scope Independence Tests
// ============================================================================

func TestLockoutService_ScopesAreIndependent(t *testing.T) {
	assert.NotEqual(t, models.LockoutScopePassword, models.MfaLockoutScope(models.MfaMethodTOTP))
	assert.NotEqual(t, models.MfaLockoutScope(models.MfaMethodTOTP), models.MfaLockoutScope(models.MfaMethodSMS))
}
