package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dogwalking/auth-service/internal/models"
)

// LockoutRepository defines the interface for lockout state persistence.
// RecordFailure runs the count-and-trip transition under a row lock so two
// concurrent failures never under-count.
type LockoutRepository interface {
	Get(ctx context.Context, principalID, scope string) (*models.LockoutState, error)
	RecordFailure(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error)
	RecordSuccess(ctx context.Context, principalID, scope string) error
}

// LockoutConfig holds configuration for the failure throttle
type LockoutConfig struct {
	Threshold    int           // consecutive failures before locking
	BaseDuration time.Duration // first lockout length
	MaxDuration  time.Duration // cap for the doubling ladder
}

// LockoutService drives the per-(principal, scope) throttle state machine:
// Open, then Threshold consecutive failures, then Locked until the cool-down
// elapses. Repeated lockouts double the cool-down up to MaxDuration. Scopes
// keep password and per-method MFA budgets independent.
type LockoutService struct {
	repo   LockoutRepository
	audit  *AuditService
	config LockoutConfig
	logger *slog.Logger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo LockoutRepository, audit *AuditService, config LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:   repo,
		audit:  audit,
		config: config,
		logger: logger,
	}
}

// CheckOpen fails fast with *models.AccountLockedError while the scope is
// locked. Storage errors fail closed: an attacker must not be able to turn a
// database fault into an unthrottled brute-force window.
func (s *LockoutService) CheckOpen(ctx context.Context, principalID, scope string) error {
	state, err := s.repo.Get(ctx, principalID, scope)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to read lockout state",
			slog.String("principal_id", principalID),
			slog.String("scope", scope),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	now := time.Now()
	if state.Locked(now) {
		return &models.AccountLockedError{RetryAfter: state.RetryAfter(now)}
	}

	return nil
}

// RecordFailure counts one failed attempt. When the count reaches the
// threshold the scope locks, the attempt counter resets, and the lockout
// ladder advances; the transition emits an auth.lockout event.
func (s *LockoutService) RecordFailure(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
	state, err := s.repo.RecordFailure(ctx, principalID, scope,
		s.config.Threshold, s.config.BaseDuration, s.config.MaxDuration)
	if err != nil {
		s.logger.Error("failed to record lockout failure",
			slog.String("principal_id", principalID),
			slog.String("scope", scope),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The trip transition zeroes the counter, so a post-call state that is
	// locked with zero attempts is the lockout that this call caused.
	now := time.Now()
	if state.Locked(now) && state.FailedAttempts == 0 {
		s.logger.Warn("scope locked",
			slog.String("principal_id", principalID),
			slog.String("scope", scope),
			slog.Int("lockout_count", state.LockoutCount),
			slog.Duration("retry_after", state.RetryAfter(now)))
		s.audit.Record(ctx, &principalID, models.EventLockout, models.EventDetail{
			"scope":               scope,
			"lockout_count":       state.LockoutCount,
			"retry_after_seconds": int(state.RetryAfter(now).Seconds()),
		}, nil)
	}

	return state, nil
}

// RecordSuccess resets the counter, the lockout ladder, and any expired lock.
// A success racing a just-set lockout does not clear it; the repository
// guards the reset with the lock expiry.
func (s *LockoutService) RecordSuccess(ctx context.Context, principalID, scope string) error {
	if err := s.repo.RecordSuccess(ctx, principalID, scope); err != nil {
		s.logger.Error("failed to reset lockout state",
			slog.String("principal_id", principalID),
			slog.String("scope", scope),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}
