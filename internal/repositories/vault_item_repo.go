package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VaultItemRepository stores encrypted secrets keyed by reference
type VaultItemRepository struct {
	pool *pgxpool.Pool
}

func NewVaultItemRepository(db *database.DB) *VaultItemRepository {
	return &VaultItemRepository{pool: db.Pool}
}

func scanVaultItemRow(scanner rowScanner) (*models.VaultItem, error) {
	var item models.VaultItem

	err := scanner.Scan(
		&item.Ref, &item.Ciphertext, &item.Nonce, &item.KeyVersion,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &item, nil
}

// Upsert writes an item, replacing any existing ciphertext under the same ref
func (r *VaultItemRepository) Upsert(ctx context.Context, item *models.VaultItem) (*models.VaultItem, error) {
	query := `
		INSERT INTO vault_items (ref, ciphertext, nonce, key_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (ref) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext,
		    nonce = EXCLUDED.nonce,
		    key_version = EXCLUDED.key_version,
		    updated_at = EXCLUDED.updated_at
		RETURNING ref, ciphertext, nonce, key_version, created_at, updated_at
	`

	stored, err := scanVaultItemRow(r.pool.QueryRow(ctx, query,
		item.Ref, item.Ciphertext, item.Nonce, item.KeyVersion, time.Now(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert vault item: %w", err)
	}

	return stored, nil
}

func (r *VaultItemRepository) Get(ctx context.Context, ref string) (*models.VaultItem, error) {
	query := `
		SELECT ref, ciphertext, nonce, key_version, created_at, updated_at
		FROM vault_items WHERE ref = $1
	`

	return scanVaultItemRow(r.pool.QueryRow(ctx, query, ref))
}

func (r *VaultItemRepository) Delete(ctx context.Context, ref string) error {
	query := `DELETE FROM vault_items WHERE ref = $1`

	result, err := r.pool.Exec(ctx, query, ref)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ListRefsNotAtVersion returns the refs of items whose ciphertext is not yet
// under the given key version.
func (r *VaultItemRepository) ListRefsNotAtVersion(ctx context.Context, version int) ([]string, error) {
	query := `SELECT ref FROM vault_items WHERE key_version != $1 ORDER BY ref`

	rows, err := r.pool.Query(ctx, query, version)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault items: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan vault item ref: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault item refs: %w", err)
	}

	return refs, nil
}

// ReplaceCiphertext swaps an item's ciphertext only if it is still under
// fromVersion, so a rotation pass never clobbers a concurrent writer.
func (r *VaultItemRepository) ReplaceCiphertext(ctx context.Context, ref string, fromVersion int, ciphertext, nonce []byte, toVersion int) (bool, error) {
	query := `
		UPDATE vault_items
		SET ciphertext = $1, nonce = $2, key_version = $3, updated_at = $4
		WHERE ref = $5 AND key_version = $6
	`

	result, err := r.pool.Exec(ctx, query, ciphertext, nonce, toVersion, time.Now(), ref, fromVersion)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}
