package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MfaEnrollmentRepository defines MFA enrollment persistence operations
type MfaEnrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.MfaEnrollment) error
	GetByID(ctx context.Context, enrollmentID string) (*models.MfaEnrollment, error)
	GetByPrincipalAndMethod(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaEnrollment, error)
	GetByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error)
	GetVerifiedByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error)
	MarkAsVerified(ctx context.Context, enrollmentID string) error
	UpdateBackupCodes(ctx context.Context, enrollmentID string, codes []models.BackupCodeEntry) error
	ConsumeBackupCode(ctx context.Context, enrollmentID string, verify func(hash string) bool) (int, error)
	Delete(ctx context.Context, enrollmentID string) error
	DeleteUnverifiedOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// mfaEnrollmentRepoImpl implements MfaEnrollmentRepository
type mfaEnrollmentRepoImpl struct {
	db *database.DB
}

// NewMfaEnrollmentRepository creates a new MFA enrollment repository
func NewMfaEnrollmentRepository(db *database.DB) MfaEnrollmentRepository {
	return &mfaEnrollmentRepoImpl{db: db}
}

const enrollmentColumns = `
	id, principal_id, method, vault_ref, channel, backup_codes, enrolled_at, verified_at
`

func scanEnrollmentRow(scanner rowScanner) (*models.MfaEnrollment, error) {
	enrollment := &models.MfaEnrollment{}
	var method string
	var vaultRef, channel *string
	var backupCodesJSON []byte

	err := scanner.Scan(
		&enrollment.ID,
		&enrollment.PrincipalID,
		&method,
		&vaultRef,
		&channel,
		&backupCodesJSON,
		&enrollment.EnrolledAt,
		&enrollment.VerifiedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	enrollment.Method = models.MfaMethod(method)
	if vaultRef != nil {
		enrollment.VaultRef = *vaultRef
	}
	if channel != nil {
		enrollment.Channel = *channel
	}
	if err := json.Unmarshal(backupCodesJSON, &enrollment.BackupCodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup codes: %w", err)
	}

	return enrollment, nil
}

func scanEnrollmentRows(rows pgx.Rows) ([]models.MfaEnrollment, error) {
	defer rows.Close()

	var enrollments []models.MfaEnrollment
	for rows.Next() {
		enrollment, err := scanEnrollmentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

// Create inserts a new enrollment. One enrollment per (principal, method).
func (r *mfaEnrollmentRepoImpl) Create(ctx context.Context, enrollment *models.MfaEnrollment) error {
	backupCodesJSON, err := json.Marshal(enrollment.BackupCodes)
	if err != nil {
		return fmt.Errorf("failed to marshal backup codes: %w", err)
	}

	enrollment.ID = uuid.New().String()
	enrollment.EnrolledAt = time.Now()

	var vaultRef, channel *string
	if enrollment.VaultRef != "" {
		vaultRef = &enrollment.VaultRef
	}
	if enrollment.Channel != "" {
		channel = &enrollment.Channel
	}

	query := `
		INSERT INTO mfa_enrollments (id, principal_id, method, vault_ref, channel, backup_codes, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		enrollment.ID,
		enrollment.PrincipalID,
		string(enrollment.Method),
		vaultRef,
		channel,
		backupCodesJSON,
		enrollment.EnrolledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503": // principal does not exist
				return models.ErrNotFound
			case "23505": // already enrolled for this method
				return models.ErrConflict
			}
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	return nil
}

// GetByID retrieves an enrollment by ID
func (r *mfaEnrollmentRepoImpl) GetByID(ctx context.Context, enrollmentID string) (*models.MfaEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM mfa_enrollments WHERE id = $1`

	return scanEnrollmentRow(r.db.Pool.QueryRow(ctx, query, enrollmentID))
}

// GetByPrincipalAndMethod retrieves the principal's enrollment for one method
func (r *mfaEnrollmentRepoImpl) GetByPrincipalAndMethod(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaEnrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM mfa_enrollments
		WHERE principal_id = $1 AND method = $2
	`

	return scanEnrollmentRow(r.db.Pool.QueryRow(ctx, query, principalID, string(method)))
}

// GetByPrincipalID retrieves all enrollments for a principal
func (r *mfaEnrollmentRepoImpl) GetByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM mfa_enrollments
		WHERE principal_id = $1
		ORDER BY enrolled_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	return scanEnrollmentRows(rows)
}

// GetVerifiedByPrincipalID retrieves only verified enrollments for a principal
func (r *mfaEnrollmentRepoImpl) GetVerifiedByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM mfa_enrollments
		WHERE principal_id = $1 AND verified_at IS NOT NULL
		ORDER BY enrolled_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified enrollments: %w", err)
	}

	return scanEnrollmentRows(rows)
}

// MarkAsVerified marks an enrollment as verified
func (r *mfaEnrollmentRepoImpl) MarkAsVerified(ctx context.Context, enrollmentID string) error {
	query := `
		UPDATE mfa_enrollments
		SET verified_at = NOW()
		WHERE id = $1 AND verified_at IS NULL
	`

	commandTag, err := r.db.Pool.Exec(ctx, query, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to mark enrollment as verified: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdateBackupCodes replaces the backup code set for an enrollment
func (r *mfaEnrollmentRepoImpl) UpdateBackupCodes(ctx context.Context, enrollmentID string, codes []models.BackupCodeEntry) error {
	backupCodesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("failed to marshal backup codes: %w", err)
	}

	query := `
		UPDATE mfa_enrollments
		SET backup_codes = $1
		WHERE id = $2
	`

	commandTag, err := r.db.Pool.Exec(ctx, query, backupCodesJSON, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to update backup codes: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ConsumeBackupCode marks the first unused code accepted by verify as used,
// under a row lock so two concurrent presentations of the same code cannot
// both succeed. Returns the number of unused codes remaining, or
// ErrCodeMismatch when no unused code matches.
func (r *mfaEnrollmentRepoImpl) ConsumeBackupCode(ctx context.Context, enrollmentID string, verify func(hash string) bool) (int, error) {
	var remaining int

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var backupCodesJSON []byte
		lock := `SELECT backup_codes FROM mfa_enrollments WHERE id = $1 FOR UPDATE`

		if err := tx.QueryRow(ctx, lock, enrollmentID).Scan(&backupCodesJSON); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("failed to lock enrollment: %w", err)
		}

		var codes []models.BackupCodeEntry
		if err := json.Unmarshal(backupCodesJSON, &codes); err != nil {
			return fmt.Errorf("failed to unmarshal backup codes: %w", err)
		}

		matched := -1
		for i := range codes {
			if codes[i].UsedAt == nil && verify(codes[i].CodeHash) {
				matched = i
				break
			}
		}
		if matched < 0 {
			return models.ErrCodeMismatch
		}

		now := time.Now()
		codes[matched].UsedAt = &now

		updated, err := json.Marshal(codes)
		if err != nil {
			return fmt.Errorf("failed to marshal backup codes: %w", err)
		}

		update := `UPDATE mfa_enrollments SET backup_codes = $1 WHERE id = $2`
		if _, err := tx.Exec(ctx, update, updated, enrollmentID); err != nil {
			return fmt.Errorf("failed to consume backup code: %w", err)
		}

		for _, code := range codes {
			if code.UsedAt == nil {
				remaining++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return remaining, nil
}

// Delete removes an enrollment
func (r *mfaEnrollmentRepoImpl) Delete(ctx context.Context, enrollmentID string) error {
	query := `DELETE FROM mfa_enrollments WHERE id = $1`

	commandTag, err := r.db.Pool.Exec(ctx, query, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteUnverifiedOlderThan removes abandoned enrollments that were never verified
func (r *mfaEnrollmentRepoImpl) DeleteUnverifiedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `
		DELETE FROM mfa_enrollments
		WHERE verified_at IS NULL AND enrolled_at < $1
	`

	result, err := r.db.Pool.Exec(ctx, query, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified enrollments: %w", err)
	}

	return result.RowsAffected(), nil
}
