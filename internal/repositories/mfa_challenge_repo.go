package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MfaChallengeRepository handles delivered one-time code data access
type MfaChallengeRepository struct {
	db *database.DB
}

// NewMfaChallengeRepository creates a new MfaChallengeRepository
func NewMfaChallengeRepository(db *database.DB) *MfaChallengeRepository {
	return &MfaChallengeRepository{db: db}
}

// scanChallengeRow handles nullable fields and populates an MfaChallenge model from a database row
func scanChallengeRow(row rowScanner) (*models.MfaChallenge, error) {
	var challenge models.MfaChallenge
	var method string
	var consumedAt *time.Time

	err := row.Scan(
		&challenge.ID, &challenge.PrincipalID, &method, &challenge.CodeHash,
		&challenge.ExpiresAt, &consumedAt, &challenge.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	challenge.Method = models.MfaMethod(method)
	challenge.ConsumedAt = consumedAt
	return &challenge, nil
}

// Create stores a new challenge, superseding any pending one for the same
// principal and method so only the latest delivered code can verify.
func (r *MfaChallengeRepository) Create(ctx context.Context, challenge *models.MfaChallenge) (*models.MfaChallenge, error) {
	challenge.ID = uuid.New().String()
	challenge.CreatedAt = time.Now()

	var created *models.MfaChallenge
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		supersede := `
			DELETE FROM mfa_challenges
			WHERE principal_id = $1 AND method = $2 AND consumed_at IS NULL
		`
		if _, err := tx.Exec(ctx, supersede, challenge.PrincipalID, string(challenge.Method)); err != nil {
			return fmt.Errorf("failed to supersede pending challenges: %w", err)
		}

		insert := `
			INSERT INTO mfa_challenges (id, principal_id, method, code_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, principal_id, method, code_hash, expires_at, consumed_at, created_at
		`
		row, err := scanChallengeRow(tx.QueryRow(ctx, insert,
			challenge.ID, challenge.PrincipalID, string(challenge.Method),
			challenge.CodeHash, challenge.ExpiresAt, challenge.CreatedAt,
		))
		if err != nil {
			return fmt.Errorf("failed to create challenge: %w", err)
		}

		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetPending retrieves the most recent unconsumed challenge for a principal
// and method. Expiry is not filtered here; the caller distinguishes an
// expired code from a missing one.
func (r *MfaChallengeRepository) GetPending(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaChallenge, error) {
	query := `
		SELECT id, principal_id, method, code_hash, expires_at, consumed_at, created_at
		FROM mfa_challenges
		WHERE principal_id = $1 AND method = $2 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanChallengeRow(r.db.Pool.QueryRow(ctx, query, principalID, string(method)))
}

// Consume marks a challenge as used. Only one caller can win; a second
// consume of the same challenge reports ErrNotFound.
func (r *MfaChallengeRepository) Consume(ctx context.Context, challengeID string) error {
	query := `
		UPDATE mfa_challenges
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, challengeID)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// CleanupExpired deletes challenges past their expiry
func (r *MfaChallengeRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM mfa_challenges WHERE expires_at <= NOW()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired challenges: %w", err)
	}

	return result.RowsAffected(), nil
}
