package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepository handles session chains and their refresh tokens. Every
// refresh token ever issued for a session keeps a row keyed by hash; that is
// what makes a stale presentation recognizable instead of just unknown.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var revokedAt *time.Time
	var revokeReason *string

	err := scanner.Scan(
		&session.ID, &session.PrincipalID, &session.RefreshGeneration,
		&session.ExpiresAt, &revokedAt, &revokeReason,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	session.RevokedAt = revokedAt
	session.RevokeReason = revokeReason
	return &session, nil
}

// Create inserts a new session at generation 1 together with its first
// refresh token row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session, tokenHash string) (*models.Session, error) {
	session.ID = uuid.New().String()
	session.RefreshGeneration = 1

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	var created *models.Session
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		insertSession := `
			INSERT INTO sessions (id, principal_id, refresh_generation, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, principal_id, refresh_generation, expires_at, revoked_at, revoke_reason, created_at, updated_at
		`
		row, err := scanSessionRow(tx.QueryRow(ctx, insertSession,
			session.ID, session.PrincipalID, session.RefreshGeneration,
			session.ExpiresAt, session.CreatedAt, session.UpdatedAt,
		))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		insertToken := `
			INSERT INTO refresh_tokens (token_hash, session_id, generation, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insertToken, tokenHash, row.ID, row.RefreshGeneration, now); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}

		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT id, principal_id, refresh_generation, expires_at, revoked_at, revoke_reason, created_at, updated_at
		FROM sessions WHERE id = $1
	`

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, sessionID))
}

// GetRefreshToken looks up a refresh token row by its hash.
func (r *SessionRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `
		SELECT token_hash, session_id, generation, created_at
		FROM refresh_tokens WHERE token_hash = $1
	`

	var token models.RefreshToken
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.TokenHash, &token.SessionID, &token.Generation, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// RotateRefresh advances the session generation if and only if it still sits
// at fromGeneration and is not revoked, then stores the next refresh token.
// A lost race returns ErrConflict; the caller decides what losing means.
func (r *SessionRepository) RotateRefresh(ctx context.Context, sessionID string, fromGeneration int, newTokenHash string) (*models.Session, error) {
	var rotated *models.Session

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		advance := `
			UPDATE sessions
			SET refresh_generation = refresh_generation + 1, updated_at = $1
			WHERE id = $2 AND refresh_generation = $3 AND revoked_at IS NULL
			RETURNING id, principal_id, refresh_generation, expires_at, revoked_at, revoke_reason, created_at, updated_at
		`
		now := time.Now()
		row, err := scanSessionRow(tx.QueryRow(ctx, advance, now, sessionID, fromGeneration))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrConflict
			}
			return fmt.Errorf("failed to advance session generation: %w", err)
		}

		insertToken := `
			INSERT INTO refresh_tokens (token_hash, session_id, generation, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insertToken, newTokenHash, row.ID, row.RefreshGeneration, now); err != nil {
			return fmt.Errorf("failed to store rotated refresh token: %w", err)
		}

		rotated = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rotated, nil
}

// Revoke marks a session revoked. Revoking an already-revoked or unknown
// session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID, reason string) error {
	query := `
		UPDATE sessions
		SET revoked_at = NOW(), revoke_reason = $1, updated_at = NOW()
		WHERE id = $2 AND revoked_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, reason, sessionID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// RevokeAllForPrincipal revokes every active session the principal holds and
// returns how many were affected.
func (r *SessionRepository) RevokeAllForPrincipal(ctx context.Context, principalID, reason string) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked_at = NOW(), revoke_reason = $1, updated_at = NOW()
		WHERE principal_id = $2 AND revoked_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, reason, principalID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// CleanupExpired deletes sessions that expired or were revoked more than the
// grace period ago. Refresh token rows go with them via cascade.
func (r *SessionRepository) CleanupExpired(ctx context.Context, grace time.Duration) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`

	result, err := r.db.Pool.Exec(ctx, query, time.Now().Add(-grace))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
