package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutRepository handles failed-attempt counters. One row per
// (principal, scope); the password flow and each MFA method get independent
// counters through the scope column.
type LockoutRepository struct {
	db *database.DB
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

func scanLockoutRow(scanner rowScanner) (*models.LockoutState, error) {
	var state models.LockoutState
	var lockedUntil *time.Time

	err := scanner.Scan(
		&state.PrincipalID, &state.Scope, &state.FailedAttempts,
		&state.LockoutCount, &lockedUntil, &state.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	state.LockedUntil = lockedUntil
	return &state, nil
}

func (r *LockoutRepository) Get(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
	query := `
		SELECT principal_id, scope, failed_attempts, lockout_count, locked_until, updated_at
		FROM lockouts WHERE principal_id = $1 AND scope = $2
	`

	return scanLockoutRow(r.db.Pool.QueryRow(ctx, query, principalID, scope))
}

// RecordFailure increments the counter under a row lock so two concurrent
// failures cannot under-count. When the threshold is reached the counter
// resets, the lockout count increments, and locked_until is set to
// base doubled per consecutive lockout, capped at max. The returned state is
// the post-transition row.
func (r *LockoutRepository) RecordFailure(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
	var final *models.LockoutState

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO lockouts (principal_id, scope, failed_attempts, lockout_count, locked_until, updated_at)
			VALUES ($1, $2, 0, 0, NULL, $3)
			ON CONFLICT (principal_id, scope) DO NOTHING
		`
		if _, err := tx.Exec(ctx, insert, principalID, scope, time.Now()); err != nil {
			return fmt.Errorf("failed to seed lockout row: %w", err)
		}

		lock := `
			SELECT principal_id, scope, failed_attempts, lockout_count, locked_until, updated_at
			FROM lockouts WHERE principal_id = $1 AND scope = $2
			FOR UPDATE
		`
		state, err := scanLockoutRow(tx.QueryRow(ctx, lock, principalID, scope))
		if err != nil {
			return fmt.Errorf("failed to lock lockout row: %w", err)
		}

		now := time.Now()
		state.FailedAttempts++
		if state.FailedAttempts >= threshold {
			lockedUntil := now.Add(lockoutBackoff(base, max, state.LockoutCount))
			state.FailedAttempts = 0
			state.LockoutCount++
			state.LockedUntil = &lockedUntil
		}
		state.UpdatedAt = now

		update := `
			UPDATE lockouts
			SET failed_attempts = $1, lockout_count = $2, locked_until = $3, updated_at = $4
			WHERE principal_id = $5 AND scope = $6
		`
		if _, err := tx.Exec(ctx, update,
			state.FailedAttempts, state.LockoutCount, state.LockedUntil, state.UpdatedAt,
			principalID, scope,
		); err != nil {
			return fmt.Errorf("failed to update lockout row: %w", err)
		}

		final = state
		return nil
	})
	if err != nil {
		return nil, err
	}

	return final, nil
}

// RecordSuccess resets the counter and clears any expired lock, but refuses
// to clear an active lockout: a success that raced past the throttle check
// must not erase a lock that landed in between.
func (r *LockoutRepository) RecordSuccess(ctx context.Context, principalID, scope string) error {
	query := `
		UPDATE lockouts
		SET failed_attempts = 0, lockout_count = 0, locked_until = NULL, updated_at = $1
		WHERE principal_id = $2 AND scope = $3
		  AND (locked_until IS NULL OR locked_until <= $1)
	`

	_, err := r.db.Pool.Exec(ctx, query, time.Now(), principalID, scope)
	if err != nil {
		return database.MapPostgresError(err)
	}

	// Zero rows means either no counter exists yet or the row is actively
	// locked; neither is an error here.
	return nil
}

// DeleteStale removes counters that have been idle past the retention window
// and are not actively locked.
func (r *LockoutRepository) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM lockouts
		WHERE updated_at < $1 AND (locked_until IS NULL OR locked_until < $2)
	`

	now := time.Now()
	result, err := r.db.Pool.Exec(ctx, query, now.Add(-olderThan), now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// lockoutBackoff doubles the base duration per consecutive lockout, capped at max.
func lockoutBackoff(base, max time.Duration, lockoutCount int) time.Duration {
	if lockoutCount > 30 {
		return max
	}
	backoff := base << uint(lockoutCount)
	if backoff <= 0 || backoff > max {
		return max
	}
	return backoff
}
