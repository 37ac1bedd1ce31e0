package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dogwalking/auth-service/internal/models"
)

// VaultRotator is the slice of the secure vault the admin surface needs.
type VaultRotator interface {
	Rotate(ctx context.Context) (*models.RotationReport, error)
}

// AdminService backs the operator endpoints: key rotation, the security
// event trail, and principal status management.
type AdminService struct {
	principals PrincipalRepository
	sessions   *SessionService
	vault      VaultRotator
	audit      *AuditService
	logger     *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(
	principals PrincipalRepository,
	sessions *SessionService,
	vault VaultRotator,
	audit *AuditService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		principals: principals,
		sessions:   sessions,
		vault:      vault,
		audit:      audit,
		logger:     logger,
	}
}

// RotateVaultKeys re-encrypts every vault item under the active key and
// returns the per-item report. The vault emits its own audit events.
func (s *AdminService) RotateVaultKeys(ctx context.Context) (*models.RotationReport, error) {
	report, err := s.vault.Rotate(ctx)
	if err != nil {
		s.logger.Error("vault rotation failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return report, nil
}

// ListSecurityEvents returns the event trail, optionally narrowed to one
// principal or one kind. Both filters together are not supported.
func (s *AdminService) ListSecurityEvents(ctx context.Context, principalID, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	switch {
	case principalID != "" && kind != "":
		return nil, fmt.Errorf("%w: filter by principal or kind, not both", models.ErrBadRequest)
	case principalID != "":
		return s.audit.ListEventsForPrincipal(ctx, principalID, limit, offset)
	case kind != "":
		return s.audit.ListEventsByKind(ctx, kind, limit, offset)
	default:
		return s.audit.ListEvents(ctx, limit, offset)
	}
}

// ListPrincipals pages through accounts, newest first.
func (s *AdminService) ListPrincipals(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	limit, offset = clampPage(limit, offset)

	principals, err := s.principals.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list principals", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return principals, nil
}

// GetPrincipal returns one account by id.
func (s *AdminService) GetPrincipal(ctx context.Context, principalID string) (*models.Principal, error) {
	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return principal, nil
}

// SetPrincipalStatus flips an account between active and disabled. Disabling
// revokes every live session; accounts are never hard-deleted.
func (s *AdminService) SetPrincipalStatus(ctx context.Context, principalID, status string) error {
	if status != models.PrincipalStatusActive && status != models.PrincipalStatusDisabled {
		return fmt.Errorf("%w: unknown status %q", models.ErrBadRequest, status)
	}

	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to fetch principal", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if principal.Status == status {
		return nil
	}

	if err := s.principals.UpdateStatus(ctx, principalID, status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update principal status", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if status == models.PrincipalStatusDisabled {
		if err := s.sessions.RevokeAllForPrincipal(ctx, principalID, models.RevokeReasonAdmin); err != nil {
			s.logger.Error("failed to revoke sessions for disabled principal",
				slog.String("principal_id", principalID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	s.audit.Record(ctx, &principalID, models.EventPrincipalStatusChanged, models.EventDetail{
		"from": principal.Status,
		"to":   status,
	}, nil)

	s.logger.Info("principal status changed",
		slog.String("principal_id", principalID),
		slog.String("from", principal.Status),
		slog.String("to", status))

	return nil
}
