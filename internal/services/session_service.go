package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
	pkgauth "github.com/dogwalking/auth-service/pkg/auth"
)

// SessionRepository defines the interface for session family persistence.
// RotateRefresh is the compare-and-swap generation advance; it reports
// models.ErrConflict when another rotation won the race.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session, tokenHash string) (*models.Session, error)
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateRefresh(ctx context.Context, sessionID string, fromGeneration int, newTokenHash string) (*models.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForPrincipal(ctx context.Context, principalID, reason string) (int64, error)
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	RefreshTokenTTL time.Duration
}

// SessionService issues short-lived stateless access tokens paired with
// opaque single-use refresh tokens. Each refresh advances the session's
// generation; presenting a superseded generation revokes the whole family.
type SessionService struct {
	repo   SessionRepository
	tm     *auth.TokenManager
	audit  *AuditService
	config SessionConfig
	logger *slog.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, tm *auth.TokenManager, audit *AuditService, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:   repo,
		tm:     tm,
		audit:  audit,
		config: config,
		logger: logger,
	}
}

// Issue creates a new session family at generation one and mints its first
// token pair.
func (s *SessionService) Issue(ctx context.Context, principalID string) (*models.TokenPair, error) {
	refreshToken, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session := &models.Session{
		PrincipalID: principalID,
		ExpiresAt:   time.Now().Add(s.config.RefreshTokenTTL),
	}

	created, err := s.repo.Create(ctx, session, auth.HashRefreshToken(refreshToken))
	if err != nil {
		s.logger.Error("failed to create session",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, expiresAt, err := s.tm.GenerateAccessToken(principalID, created.ID)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session issued",
		slog.String("principal_id", principalID),
		slog.String("session_id", created.ID))
	s.audit.Record(ctx, &principalID, models.EventSessionIssued, models.EventDetail{
		"session_id": created.ID,
	}, nil)

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		SessionID:    created.ID,
	}, nil
}

// Refresh redeems a refresh token exactly once, rotating it for the next
// generation. A token from a superseded generation is treated as stolen:
// the whole session family is revoked and the caller gets ErrReplayDetected.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrInvalidToken
	}

	record, err := s.repo.GetRefreshToken(ctx, auth.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("failed to resolve refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session, err := s.repo.GetByID(ctx, record.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("failed to load session",
			slog.String("session_id", record.SessionID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if session.Revoked() {
		return nil, models.ErrSessionRevoked
	}
	if session.Expired(time.Now()) {
		return nil, models.ErrSessionExpired
	}
	if record.Generation < session.RefreshGeneration {
		return nil, s.revokeOnReplay(ctx, session, record.Generation)
	}

	newToken, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	updated, err := s.repo.RotateRefresh(ctx, session.ID, record.Generation, auth.HashRefreshToken(newToken))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// The CAS lost: another caller redeemed this generation between
			// our read and the update. Same treatment as a replay.
			return nil, s.revokeOnReplay(ctx, session, record.Generation)
		}
		s.logger.Error("failed to rotate refresh token",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, expiresAt, err := s.tm.GenerateAccessToken(session.PrincipalID, session.ID)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("principal_id", session.PrincipalID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session refreshed",
		slog.String("session_id", session.ID),
		slog.Int("generation", updated.RefreshGeneration))
	s.audit.Record(ctx, &session.PrincipalID, models.EventSessionRefreshed, models.EventDetail{
		"session_id": session.ID,
		"generation": updated.RefreshGeneration,
	}, nil)

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		SessionID:    session.ID,
	}, nil
}

// revokeOnReplay handles a refresh token presented after its generation was
// superseded. The only safe reading is that the token leaked, so the whole
// family dies and both holders have to re-authenticate with the password.
func (s *SessionService) revokeOnReplay(ctx context.Context, session *models.Session, presentedGeneration int) error {
	if err := s.repo.Revoke(ctx, session.ID, models.RevokeReasonReplayDetected); err != nil {
		s.logger.Error("failed to revoke session after replay",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
	}

	s.logger.Warn("refresh token replay detected",
		slog.String("session_id", session.ID),
		slog.String("principal_id", session.PrincipalID),
		slog.Int("presented_generation", presentedGeneration),
		slog.Int("current_generation", session.RefreshGeneration))
	s.audit.Record(ctx, &session.PrincipalID, models.EventReplayDetected, models.EventDetail{
		"session_id":           session.ID,
		"presented_generation": presentedGeneration,
		"current_generation":   session.RefreshGeneration,
	}, nil)

	return models.ErrReplayDetected
}

// Revoke terminates one session family. Revoking a missing or already
// revoked session is a no-op, so logout stays idempotent.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to load session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	if session.Revoked() {
		return nil
	}

	if err := s.repo.Revoke(ctx, sessionID, reason); err != nil {
		s.logger.Error("failed to revoke session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("session revoked",
		slog.String("session_id", sessionID),
		slog.String("reason", reason))
	s.audit.Record(ctx, &session.PrincipalID, models.EventSessionRevoked, models.EventDetail{
		"session_id": sessionID,
		"reason":     reason,
	}, nil)

	return nil
}

// RevokeAllForPrincipal terminates every live session family the principal
// holds. Used on password change and administrative disable.
func (s *SessionService) RevokeAllForPrincipal(ctx context.Context, principalID, reason string) error {
	count, err := s.repo.RevokeAllForPrincipal(ctx, principalID, reason)
	if err != nil {
		s.logger.Error("failed to revoke principal sessions",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if count > 0 {
		s.logger.Info("sessions revoked",
			slog.String("principal_id", principalID),
			slog.String("reason", reason),
			slog.Int64("count", count))
		s.audit.Record(ctx, &principalID, models.EventSessionRevoked, models.EventDetail{
			"reason":   reason,
			"sessions": count,
		}, nil)
	}

	return nil
}

// VerifyAccess validates an access token statelessly: signature, expiry, and
// claim shape only. No store lookup happens on the hot path.
func (s *SessionService) VerifyAccess(tokenString string) (*models.AccessClaims, error) {
	return s.tm.ValidateAccessToken(tokenString)
}
