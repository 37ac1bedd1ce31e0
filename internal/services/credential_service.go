package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dogwalking/auth-service/internal/models"
	pkgauth "github.com/dogwalking/auth-service/pkg/auth"
)

// PrincipalRepository defines the interface for principal data access
type PrincipalRepository interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
	List(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	CreateWithCredential(ctx context.Context, principal *models.Principal, passwordHash string) (*models.Principal, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateLastSuccess(ctx context.Context, id string, at time.Time) error
}

// CredentialRepository defines the interface for password credential storage
type CredentialRepository interface {
	GetByPrincipalID(ctx context.Context, principalID string) (*models.Credential, error)
	Update(ctx context.Context, cred *models.Credential) error
}

// SessionRevoker is the slice of the session service a credential change
// needs: killing every live session after a password change.
type SessionRevoker interface {
	RevokeAllForPrincipal(ctx context.Context, principalID, reason string) error
}

// CredentialConfig holds password policy configuration
type CredentialConfig struct {
	Policy       pkgauth.PasswordPolicy
	HistoryLimit int // prior hashes retained for reuse rejection
}

// CredentialService owns password hashes end to end: registration, secure
// verification, and policy-checked changes. Plaintext passwords exist only
// as arguments on this service's stack; hashes never leave the package.
type CredentialService struct {
	repo       CredentialRepository
	principals PrincipalRepository
	sessions   SessionRevoker
	audit      *AuditService
	config     CredentialConfig
	logger     *slog.Logger
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(
	repo CredentialRepository,
	principals PrincipalRepository,
	sessions SessionRevoker,
	audit *AuditService,
	config CredentialConfig,
	logger *slog.Logger,
) *CredentialService {
	return &CredentialService{
		repo:       repo,
		principals: principals,
		sessions:   sessions,
		audit:      audit,
		config:     config,
		logger:     logger,
	}
}

// Register creates a principal together with its first credential. The two
// rows commit in one transaction so no account ever exists without a
// password hash.
func (s *CredentialService) Register(ctx context.Context, email, password string) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	if err := s.checkPolicy(ctx, nil, password); err != nil {
		return nil, err
	}

	_, err := s.principals.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: principal already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.principals.CreateWithCredential(ctx, &models.Principal{Email: email}, hash)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("principal registered", slog.String("principal_id", created.ID))
	s.audit.Record(ctx, &created.ID, models.EventRegister, nil, nil)

	return created, nil
}

// Verify compares a candidate password against the stored hash. A missing
// credential reports a plain mismatch; the caller cannot distinguish the two.
func (s *CredentialService) Verify(ctx context.Context, principalID, password string) (bool, error) {
	cred, err := s.repo.GetByPrincipalID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to load credential",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(cred.CurrentHash, password); err != nil {
		return false, nil
	}

	return true, nil
}

// Set replaces the principal's password. The candidate must pass the
// complexity policy and must differ from the current hash and every retained
// history hash. On acceptance the old hash joins the history (bounded by
// HistoryLimit) and every live session for the principal is revoked.
func (s *CredentialService) Set(ctx context.Context, principalID, password string) error {
	if err := s.checkPolicy(ctx, &principalID, password); err != nil {
		return err
	}

	cred, err := s.repo.GetByPrincipalID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load credential",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if pkgauth.ComparePassword(cred.CurrentHash, password) == nil {
		return s.rejectReuse(ctx, principalID)
	}
	for _, old := range cred.History {
		if pkgauth.ComparePassword(old, password) == nil {
			return s.rejectReuse(ctx, principalID)
		}
	}

	newHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	cred.History = append(cred.History, cred.CurrentHash)
	if limit := s.config.HistoryLimit; limit > 0 && len(cred.History) > limit {
		cred.History = cred.History[len(cred.History)-limit:]
	}
	cred.CurrentHash = newHash

	if err := s.repo.Update(ctx, cred); err != nil {
		s.logger.Error("failed to update credential",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Every outstanding session dies with the old password.
	if err := s.sessions.RevokeAllForPrincipal(ctx, principalID, models.RevokeReasonPasswordChanged); err != nil {
		s.logger.Error("failed to revoke sessions after password change",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password changed", slog.String("principal_id", principalID))
	s.audit.Record(ctx, &principalID, models.EventPasswordChanged, nil, nil)

	return nil
}

// checkPolicy validates a candidate against the complexity policy, emitting
// one credential.rejected event per failure.
func (s *CredentialService) checkPolicy(ctx context.Context, principalID *string, password string) error {
	err := pkgauth.ValidatePassword(password, s.config.Policy)
	if err == nil {
		return nil
	}

	reason := "does not meet the password policy"
	var ve *pkgauth.PasswordValidationError
	if errors.As(err, &ve) {
		reason = strings.Join(ve.Errors, "; ")
	}

	s.audit.Record(ctx, principalID, models.EventPasswordRejected, models.EventDetail{
		"reason": reason,
	}, nil)

	return &models.PolicyViolationError{Reason: reason}
}

func (s *CredentialService) rejectReuse(ctx context.Context, principalID string) error {
	reason := "must differ from recently used passwords"
	s.audit.Record(ctx, &principalID, models.EventPasswordRejected, models.EventDetail{
		"reason": reason,
	}, nil)
	return &models.PolicyViolationError{Reason: reason}
}
