package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

type PrincipalRepository struct {
	db *database.DB
}

func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// principalColumns is the joined shape every read returns: the principal row
// plus the password-scope lockout state, so callers see failed attempts and
// lock expiry without a second query.
const principalColumns = `
	p.id, p.email, p.status, p.last_success_at, p.created_at, p.updated_at,
	COALESCE(l.failed_attempts, 0), l.locked_until
`

// scanPrincipalRow handles nullable fields and populates a Principal model from a database row
func scanPrincipalRow(scanner rowScanner) (*models.Principal, error) {
	var principal models.Principal
	var lastSuccessAt, lockedUntil *time.Time

	err := scanner.Scan(
		&principal.ID, &principal.Email, &principal.Status,
		&lastSuccessAt, &principal.CreatedAt, &principal.UpdatedAt,
		&principal.FailedAttempts, &lockedUntil,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	principal.LastSuccessAt = lastSuccessAt
	principal.LockedUntil = lockedUntil

	return &principal, nil
}

// scanPrincipalRows iterates through rows and scans each into Principal models
func scanPrincipalRows(rows pgx.Rows) ([]*models.Principal, error) {
	defer rows.Close()

	principals := make([]*models.Principal, 0)

	for rows.Next() {
		principal, err := scanPrincipalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		principals = append(principals, principal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return principals, nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals p
		LEFT JOIN lockouts l ON l.principal_id = p.id AND l.scope = $2
		WHERE p.id = $1
	`

	principal, err := scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, id, models.LockoutScopePassword))
	if err != nil {
		return nil, err
	}

	return principal, nil
}

func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals p
		LEFT JOIN lockouts l ON l.principal_id = p.id AND l.scope = $2
		WHERE p.email = $1
	`

	principal, err := scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, email, models.LockoutScopePassword))
	if err != nil {
		return nil, err
	}

	return principal, nil
}

func (r *PrincipalRepository) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals p
		LEFT JOIN lockouts l ON l.principal_id = p.id AND l.scope = $3
		ORDER BY p.created_at DESC LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset, models.LockoutScopePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to query principals: %w", err)
	}

	return scanPrincipalRows(rows)
}

func (r *PrincipalRepository) Create(ctx context.Context, principal *models.Principal) (*models.Principal, error) {
	principal.ID = uuid.New().String()

	now := time.Now()
	principal.CreatedAt = now
	principal.UpdatedAt = now

	if principal.Status == "" {
		principal.Status = models.PrincipalStatusActive
	}

	query := `
		INSERT INTO principals (id, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, status, last_success_at, created_at, updated_at
	`

	var created models.Principal
	err := r.db.Pool.QueryRow(ctx, query,
		principal.ID, principal.Email, principal.Status,
		principal.CreatedAt, principal.UpdatedAt,
	).Scan(
		&created.ID, &created.Email, &created.Status,
		&created.LastSuccessAt, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &created, nil
}

// CreateWithCredential inserts a principal and its password credential in one
// transaction, so an account can never exist in a half-registered state.
func (r *PrincipalRepository) CreateWithCredential(ctx context.Context, principal *models.Principal, passwordHash string) (*models.Principal, error) {
	principal.ID = uuid.New().String()

	now := time.Now()
	principal.CreatedAt = now
	principal.UpdatedAt = now

	if principal.Status == "" {
		principal.Status = models.PrincipalStatusActive
	}

	var created models.Principal
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		insertPrincipal := `
			INSERT INTO principals (id, email, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, email, status, last_success_at, created_at, updated_at
		`

		err := tx.QueryRow(ctx, insertPrincipal,
			principal.ID, principal.Email, principal.Status,
			principal.CreatedAt, principal.UpdatedAt,
		).Scan(
			&created.ID, &created.Email, &created.Status,
			&created.LastSuccessAt, &created.CreatedAt, &created.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		insertCredential := `
			INSERT INTO credentials (principal_id, current_hash, history, changed_at)
			VALUES ($1, $2, $3, $4)
		`

		if _, err := tx.Exec(ctx, insertCredential,
			created.ID, passwordHash, pq.Array([]string{}), now,
		); err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (r *PrincipalRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE principals SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Pool.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *PrincipalRepository) UpdateLastSuccess(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE principals SET last_success_at = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Pool.Exec(ctx, query, at, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
