package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/models"
)

// LoginResult is the outcome of a login step: either a full token pair, or
// an MFA continuation listing the methods that can complete it.
type LoginResult struct {
	MfaRequired bool
	Methods     []models.MfaMethod
	Tokens      *models.TokenPair
	Principal   *models.Principal
}

// AuthService orchestrates the login handshake across the credential,
// lockout, MFA, and session services. Failure paths are equalized with a
// jittered delay so unknown accounts and wrong passwords look alike.
type AuthService struct {
	principals  PrincipalRepository
	credentials *CredentialService
	lockouts    *LockoutService
	mfa         *MfaService
	sessions    *SessionService
	timing      *auth.TimingDelay
	audit       *AuditService
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	principals PrincipalRepository,
	credentials *CredentialService,
	lockouts *LockoutService,
	mfa *MfaService,
	sessions *SessionService,
	timing *auth.TimingDelay,
	audit *AuditService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		principals:  principals,
		credentials: credentials,
		lockouts:    lockouts,
		mfa:         mfa,
		sessions:    sessions,
		timing:      timing,
		audit:       audit,
		logger:      logger,
	}
}

// Register creates an account and issues its first session. A fresh account
// has no MFA enrollments, so no second factor can be required yet.
func (s *AuthService) Register(ctx context.Context, email, password string) (*LoginResult, error) {
	principal, err := s.credentials.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}

	tokens, err := s.sessions.Issue(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("principal registered", slog.String("principal_id", principal.ID))

	return &LoginResult{Tokens: tokens, Principal: principal}, nil
}

// Login runs the password stage of the handshake. When the principal has
// verified MFA methods it returns an MFA continuation instead of tokens;
// tokens only exist once every required factor has passed.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredential
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown account burns the same time as a wrong password.
			s.audit.Record(ctx, nil, models.EventLoginFailure, models.EventDetail{
				"reason": "unknown_account",
			}, nil)
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInvalidCredential
		}
		s.logger.Error("failed to fetch principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if principal.IsDisabled() {
		s.audit.Record(ctx, &principal.ID, models.EventLoginFailure, models.EventDetail{
			"reason": "disabled",
		}, nil)
		s.timing.WaitFrom(start, false)
		return nil, models.ErrPrincipalDisabled
	}

	if err := s.lockouts.CheckOpen(ctx, principal.ID, models.LockoutScopePassword); err != nil {
		return nil, err
	}

	ok, err := s.credentials.Verify(ctx, principal.ID, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		state, rerr := s.lockouts.RecordFailure(ctx, principal.ID, models.LockoutScopePassword)
		if rerr != nil {
			return nil, rerr
		}
		s.audit.Record(ctx, &principal.ID, models.EventLoginFailure, models.EventDetail{
			"reason": "bad_password",
		}, nil)
		s.timing.WaitFrom(start, false)

		now := time.Now()
		if state.Locked(now) {
			return nil, &models.AccountLockedError{RetryAfter: state.RetryAfter(now)}
		}
		return nil, models.ErrInvalidCredential
	}

	_ = s.lockouts.RecordSuccess(ctx, principal.ID, models.LockoutScopePassword)

	methods, err := s.mfa.VerifiedMethods(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	if len(methods) > 0 {
		s.logger.Info("login pending second factor",
			slog.String("principal_id", principal.ID))
		s.timing.WaitFrom(start, true)
		return &LoginResult{
			MfaRequired: true,
			Methods:     methods,
			Principal:   principal,
		}, nil
	}

	return s.completeLogin(ctx, start, principal)
}

// RequestLoginChallenge delivers a one-time code for the MFA stage of a
// login. The caller is identified by email because no session exists yet.
func (s *AuthService) RequestLoginChallenge(ctx context.Context, email string, method models.MfaMethod) (*models.ChallengeTicket, error) {
	start := time.Now()

	principal, err := s.resolveForMfaStage(ctx, start, email)
	if err != nil {
		return nil, err
	}

	return s.mfa.Challenge(ctx, principal.ID, method)
}

// CompleteMfaLogin runs the second-factor stage and issues tokens on
// success. Verification failures are audited and throttled by the MFA
// service; this layer only equalizes timing and finishes the handshake.
func (s *AuthService) CompleteMfaLogin(ctx context.Context, email string, method models.MfaMethod, code string) (*LoginResult, error) {
	start := time.Now()

	principal, err := s.resolveForMfaStage(ctx, start, email)
	if err != nil {
		return nil, err
	}

	if err := s.mfa.Verify(ctx, principal.ID, method, code); err != nil {
		s.timing.WaitFrom(start, false)
		return nil, err
	}

	return s.completeLogin(ctx, start, principal)
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes the caller's session. Idempotent; logging out twice is not
// an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID, models.RevokeReasonLogout)
}

// VerifyAccess validates a bearer token statelessly.
func (s *AuthService) VerifyAccess(tokenString string) (*models.AccessClaims, error) {
	return s.sessions.VerifyAccess(tokenString)
}

// ChangePassword re-proves the current password under the password throttle
// scope, then hands the change to the credential service (which enforces
// policy, rejects reuse, and revokes every live session).
func (s *AuthService) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error {
	if err := s.lockouts.CheckOpen(ctx, principalID, models.LockoutScopePassword); err != nil {
		return err
	}

	ok, err := s.credentials.Verify(ctx, principalID, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		if _, rerr := s.lockouts.RecordFailure(ctx, principalID, models.LockoutScopePassword); rerr != nil {
			return rerr
		}
		return models.ErrInvalidCredential
	}

	_ = s.lockouts.RecordSuccess(ctx, principalID, models.LockoutScopePassword)

	return s.credentials.Set(ctx, principalID, newPassword)
}

// resolveForMfaStage maps an email to an eligible principal for the MFA leg
// of the handshake, with the same timing shape as the password leg.
func (s *AuthService) resolveForMfaStage(ctx context.Context, start time.Time, email string) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredential
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInvalidCredential
		}
		s.logger.Error("failed to fetch principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if principal.IsDisabled() {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrPrincipalDisabled
	}

	return principal, nil
}

// completeLogin issues the session once every required factor has passed.
// This is the only place a login emits auth.login_success.
func (s *AuthService) completeLogin(ctx context.Context, start time.Time, principal *models.Principal) (*LoginResult, error) {
	tokens, err := s.sessions.Issue(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	if err := s.principals.UpdateLastSuccess(ctx, principal.ID, time.Now()); err != nil {
		s.logger.Error("failed to record login time",
			slog.String("principal_id", principal.ID),
			slog.Any("error", err))
	}

	s.audit.Record(ctx, &principal.ID, models.EventLoginSuccess, nil, nil)
	s.logger.Info("principal logged in", slog.String("principal_id", principal.ID))
	s.timing.WaitFrom(start, true)

	return &LoginResult{Tokens: tokens, Principal: principal}, nil
}
