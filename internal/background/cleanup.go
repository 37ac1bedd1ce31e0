package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/dogwalking/auth-service/internal/repositories"
)

const (
	cleanupTimeout = 30 * time.Second

	// Dead sessions and their refresh token rows stay around for a week so
	// replayed tokens from a recently revoked chain are still recognizable.
	sessionRetention = 7 * 24 * time.Hour

	lockoutRetention     = 7 * 24 * time.Hour
	enrollmentAbandonAge = 24 * time.Hour
)

// CleanupManager periodically removes expired rows from the database:
// lapsed challenges, dead sessions, stale lockouts, abandoned enrollments.
// Nothing here affects correctness; expiry is enforced at read time.
type CleanupManager struct {
	challengeRepo  *repositories.MfaChallengeRepository
	sessionRepo    *repositories.SessionRepository
	lockoutRepo    *repositories.LockoutRepository
	enrollmentRepo repositories.MfaEnrollmentRepository
	logger         *slog.Logger
	interval       time.Duration
	stopCh         chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	challengeRepo *repositories.MfaChallengeRepository,
	sessionRepo *repositories.SessionRepository,
	lockoutRepo *repositories.LockoutRepository,
	enrollmentRepo repositories.MfaEnrollmentRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		challengeRepo:  challengeRepo,
		sessionRepo:    sessionRepo,
		lockoutRepo:    lockoutRepo,
		enrollmentRepo: enrollmentRepo,
		logger:         logger,
		interval:       interval,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup executes every purge step, continuing past individual failures
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cm.logger.Info("starting storage hygiene cleanup")

	cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	steps := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{"expired_challenges", cm.challengeRepo.CleanupExpired},
		{"dead_sessions", func(c context.Context) (int64, error) {
			return cm.sessionRepo.CleanupExpired(c, sessionRetention)
		}},
		{"stale_lockouts", func(c context.Context) (int64, error) {
			return cm.lockoutRepo.DeleteStale(c, lockoutRetention)
		}},
		{"abandoned_enrollments", func(c context.Context) (int64, error) {
			return cm.enrollmentRepo.DeleteUnverifiedOlderThan(c, enrollmentAbandonAge)
		}},
	}

	for _, step := range steps {
		rowsDeleted, err := step.run(cleanupCtx)
		if err != nil {
			cm.logger.Error("cleanup step failed",
				slog.String("step", step.name),
				slog.Any("error", err))
			continue
		}

		if rowsDeleted > 0 {
			cm.logger.Info("cleanup step completed",
				slog.String("step", step.name),
				slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
