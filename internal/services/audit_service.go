package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dogwalking/auth-service/internal/metrics"
	"github.com/dogwalking/auth-service/internal/models"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// SecurityEventRepository defines the interface for the append-only event store
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	GetByPrincipalID(ctx context.Context, principalID string, limit, offset int) ([]*models.SecurityEvent, error)
	GetByKind(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
	List(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
}

// failureKinds marks the event kinds logged at Warn instead of Info.
var failureKinds = map[string]bool{
	models.EventLoginFailure:         true,
	models.EventLockout:              true,
	models.EventPasswordRejected:     true,
	models.EventMfaVerifyFailure:     true,
	models.EventReplayDetected:       true,
	models.EventVaultRotationFailure: true,
	models.EventVaultDecryptFailure:  true,
}

// AuditService is the single sink for security events, with a dual-write
// pattern (slog audit trail + database). Every security-relevant transition
// passes through Record exactly once.
type AuditService struct {
	repo        SecurityEventRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo SecurityEventRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Record writes one security event to the log stream and the database.
// Persistence failures are logged but never propagated: audit storage being
// down must not take authentication down with it.
func (s *AuditService) Record(ctx context.Context, principalID *string, kind string, detail models.EventDetail, ipAddress *string) {
	if ipAddress == nil {
		if ip := pkglogger.ClientIP(ctx); ip != "" {
			ipAddress = &ip
		}
	}

	logEvent := pkglogger.AuditEvent{
		Kind:    kind,
		Success: !failureKinds[kind],
		Detail:  detail,
	}
	if principalID != nil {
		logEvent.PrincipalID = *principalID
	}
	if ipAddress != nil {
		logEvent.IPAddress = *ipAddress
	}
	s.auditLogger.LogSecurityEvent(ctx, logEvent)
	metrics.ObserveEvent(kind)

	event := &models.SecurityEvent{
		PrincipalID: principalID,
		Kind:        kind,
		Detail:      detail,
		IPAddress:   ipAddress,
	}

	if _, err := s.repo.Create(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	}
}

// ListEvents retrieves recent security events, newest first
func (s *AuditService) ListEvents(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	limit, offset = clampPage(limit, offset)

	events, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	return events, nil
}

// ListEventsForPrincipal retrieves the event trail for a specific principal
func (s *AuditService) ListEventsForPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.SecurityEvent, error) {
	limit, offset = clampPage(limit, offset)

	events, err := s.repo.GetByPrincipalID(ctx, principalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get principal event trail: %w", err)
	}

	return events, nil
}

// ListEventsByKind retrieves recent events of one kind
func (s *AuditService) ListEventsByKind(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	limit, offset = clampPage(limit, offset)

	events, err := s.repo.GetByKind(ctx, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by kind: %w", err)
	}

	return events, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
