package repositories

import (
	"context"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// CredentialRepository handles password credential persistence. The prior
// hashes ride along as a text[] so history checks never need a second table.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{pool: db.Pool}
}

func (r *CredentialRepository) GetByPrincipalID(ctx context.Context, principalID string) (*models.Credential, error) {
	query := `
		SELECT principal_id, current_hash, history, changed_at
		FROM credentials WHERE principal_id = $1
	`

	var cred models.Credential
	err := r.pool.QueryRow(ctx, query, principalID).Scan(
		&cred.PrincipalID, &cred.CurrentHash, pq.Array(&cred.History), &cred.ChangedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &cred, nil
}

func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	cred.ChangedAt = time.Now()

	query := `
		INSERT INTO credentials (principal_id, current_hash, history, changed_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		cred.PrincipalID, cred.CurrentHash, pq.Array(cred.History), cred.ChangedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *CredentialRepository) Update(ctx context.Context, cred *models.Credential) error {
	cred.ChangedAt = time.Now()

	query := `
		UPDATE credentials
		SET current_hash = $1, history = $2, changed_at = $3
		WHERE principal_id = $4
	`

	result, err := r.pool.Exec(ctx, query,
		cred.CurrentHash, pq.Array(cred.History), cred.ChangedAt, cred.PrincipalID,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
