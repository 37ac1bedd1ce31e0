package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/delivery"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/dogwalking/auth-service/internal/repositories"
)

// Backup codes are long-lived credentials; hash them like passwords.
const backupCodeHashCost = 14

// ChallengeRepository defines the interface for delivered one-time codes
type ChallengeRepository interface {
	Create(ctx context.Context, challenge *models.MfaChallenge) (*models.MfaChallenge, error)
	GetPending(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaChallenge, error)
	Consume(ctx context.Context, challengeID string) error
}

// SecretVault is the slice of the secure vault the MFA service needs for
// TOTP seeds.
type SecretVault interface {
	Put(ctx context.Context, ref string, plaintext []byte) (*models.VaultItem, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// PrincipalDirectory resolves principals for enrollment.
type PrincipalDirectory interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
}

// MfaConfig holds MFA configuration
type MfaConfig struct {
	BackupCodeCount int
	OtpDigits       int
	OtpTTL          time.Duration
}

// MfaService handles second-factor enrollment, challenges, and verification.
// TOTP seeds live only in the secure vault; delivered codes and backup codes
// are stored bcrypt-hashed.
type MfaService struct {
	enrollRepo    repositories.MfaEnrollmentRepository
	challengeRepo ChallengeRepository
	vault         SecretVault
	principals    PrincipalDirectory
	lockouts      *LockoutService
	totpMgr       *auth.TOTPManager
	sender        delivery.OtpSender
	audit         *AuditService
	config        MfaConfig
	logger        *slog.Logger
}

// NewMfaService creates a new MFA service
func NewMfaService(
	enrollRepo repositories.MfaEnrollmentRepository,
	challengeRepo ChallengeRepository,
	vault SecretVault,
	principals PrincipalDirectory,
	lockouts *LockoutService,
	totpMgr *auth.TOTPManager,
	sender delivery.OtpSender,
	audit *AuditService,
	config MfaConfig,
	logger *slog.Logger,
) *MfaService {
	return &MfaService{
		enrollRepo:    enrollRepo,
		challengeRepo: challengeRepo,
		vault:         vault,
		principals:    principals,
		lockouts:      lockouts,
		totpMgr:       totpMgr,
		sender:        sender,
		audit:         audit,
		config:        config,
		logger:        logger,
	}
}

// Enroll registers a method for a principal. The returned payload carries
// everything that is shown exactly once: TOTP provisioning material and the
// plaintext backup codes. The enrollment stays unverified until the first
// successful Verify.
func (s *MfaService) Enroll(ctx context.Context, principalID string, method models.MfaMethod, channel string) (*models.EnrollmentPayload, error) {
	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	existing, err := s.enrollRepo.GetByPrincipalAndMethod(ctx, principalID, method)
	switch {
	case err == nil && existing.IsVerified():
		return nil, models.ErrConflict
	case err == nil:
		// An abandoned unverified enrollment is replaced wholesale.
		if derr := s.enrollRepo.Delete(ctx, existing.ID); derr != nil && !errors.Is(derr, models.ErrNotFound) {
			s.logger.Error("failed to replace unverified enrollment", slog.Any("error", derr))
			return nil, models.ErrInternalServer
		}
		if existing.VaultRef != "" {
			if derr := s.vault.Delete(ctx, existing.VaultRef); derr != nil {
				s.logger.Error("failed to delete superseded totp seed", slog.Any("error", derr))
			}
		}
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to check existing enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	backupCodes, entries, err := s.newBackupCodes()
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	enrollment := &models.MfaEnrollment{
		PrincipalID: principalID,
		Method:      method,
		BackupCodes: entries,
	}

	var provisioning *auth.TOTPProvisioning

	switch {
	case method == models.MfaMethodTOTP:
		provisioning, err = s.totpMgr.GenerateProvisioning(principal.Email)
		if err != nil {
			s.logger.Error("failed to generate TOTP provisioning", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		// The seed goes into the vault before the enrollment row exists;
		// the row is the only thing that makes the ref reachable.
		ref := "totp/" + uuid.New().String()
		if _, err := s.vault.Put(ctx, ref, []byte(provisioning.Secret)); err != nil {
			s.logger.Error("failed to store totp seed", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		enrollment.VaultRef = ref
	case method.UsesChallenge():
		if method == models.MfaMethodEmail && channel == "" {
			channel = principal.Email
		}
		if channel == "" {
			return nil, fmt.Errorf("%w: delivery channel is required for method %s", models.ErrBadRequest, method)
		}
		enrollment.Channel = channel
	default:
		return nil, models.ErrUnknownMethod
	}

	if err := s.enrollRepo.Create(ctx, enrollment); err != nil {
		if enrollment.VaultRef != "" {
			if derr := s.vault.Delete(ctx, enrollment.VaultRef); derr != nil {
				s.logger.Error("failed to delete orphaned totp seed", slog.Any("error", derr))
			}
		}
		s.logger.Error("failed to create enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(ctx, &principalID, models.EventMfaEnrollStarted, models.EventDetail{
		"method": string(method),
	}, nil)

	s.logger.Info("mfa enrollment started",
		slog.String("principal_id", principalID),
		slog.String("method", string(method)),
		slog.String("enrollment_id", enrollment.ID))

	payload := &models.EnrollmentPayload{
		EnrollmentID: enrollment.ID,
		Method:       string(method),
		BackupCodes:  backupCodes,
	}
	if provisioning != nil {
		payload.Secret = provisioning.Secret
		payload.OtpauthURL = provisioning.OtpauthURL
		payload.QRCode = provisioning.QRCode
	}

	return payload, nil
}

// Challenge generates and delivers a one-time code for a challenge-based
// method. The plaintext goes to the enrolled channel; only its hash is
// stored. A new challenge supersedes any pending one for the same pair.
func (s *MfaService) Challenge(ctx context.Context, principalID string, method models.MfaMethod) (*models.ChallengeTicket, error) {
	if !method.UsesChallenge() {
		return nil, models.ErrChallengeNotRequired
	}

	enrollment, err := s.enrollRepo.GetByPrincipalAndMethod(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	code, err := auth.GenerateNumericCode(s.config.OtpDigits)
	if err != nil {
		s.logger.Error("failed to generate challenge code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The hash only has to outlive the code's few-minute window.
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash challenge code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	challenge, err := s.challengeRepo.Create(ctx, &models.MfaChallenge{
		PrincipalID: principalID,
		Method:      method,
		CodeHash:    string(hash),
		ExpiresAt:   time.Now().Add(s.config.OtpTTL),
	})
	if err != nil {
		s.logger.Error("failed to create challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.sender.Send(ctx, method, enrollment.Channel, code); err != nil {
		s.logger.Error("failed to deliver challenge code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(ctx, &principalID, models.EventMfaChallengeSent, models.EventDetail{
		"method":       string(method),
		"challenge_id": challenge.ID,
	}, nil)

	return &models.ChallengeTicket{
		ChallengeID: challenge.ID,
		Method:      string(method),
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// Verify checks a presented code for a method, falling back to the
// single-use backup codes when the native comparison fails. Attempts are
// throttled per (principal, method); a success resets the throttle and
// completes a first-time enrollment.
func (s *MfaService) Verify(ctx context.Context, principalID string, method models.MfaMethod, code string) error {
	scope := models.MfaLockoutScope(method)

	if err := s.lockouts.CheckOpen(ctx, principalID, scope); err != nil {
		return err
	}

	enrollment, err := s.enrollRepo.GetByPrincipalAndMethod(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return models.ErrInternalServer
	}

	var matched, usedBackup bool

	switch {
	case method == models.MfaMethodTOTP:
		matched, err = s.verifyTOTP(ctx, enrollment, code)
	case method.UsesChallenge():
		matched, err = s.verifyChallenge(ctx, principalID, method, code)
	default:
		return models.ErrUnknownMethod
	}
	if err != nil {
		return err
	}

	if !matched {
		remaining, cerr := s.enrollRepo.ConsumeBackupCode(ctx, enrollment.ID, func(hash string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
		})
		switch {
		case cerr == nil:
			matched, usedBackup = true, true
			s.audit.Record(ctx, &principalID, models.EventMfaBackupCodeUsed, models.EventDetail{
				"method":    string(method),
				"remaining": remaining,
			}, nil)
			if remaining <= 2 {
				s.logger.Warn("backup codes running low",
					slog.String("principal_id", principalID),
					slog.Int("remaining", remaining))
			}
		case errors.Is(cerr, models.ErrCodeMismatch), errors.Is(cerr, models.ErrNotFound):
			// keep matched == false
		default:
			s.logger.Error("failed to consume backup code", slog.Any("error", cerr))
			return models.ErrInternalServer
		}
	}

	if !matched {
		state, rerr := s.lockouts.RecordFailure(ctx, principalID, scope)
		if rerr != nil {
			return rerr
		}
		s.audit.Record(ctx, &principalID, models.EventMfaVerifyFailure, models.EventDetail{
			"method": string(method),
		}, nil)
		if now := time.Now(); state.Locked(now) {
			return &models.AccountLockedError{RetryAfter: state.RetryAfter(now)}
		}
		return models.ErrCodeMismatch
	}

	_ = s.lockouts.RecordSuccess(ctx, principalID, scope)

	if !enrollment.IsVerified() {
		if err := s.enrollRepo.MarkAsVerified(ctx, enrollment.ID); err != nil {
			s.logger.Error("failed to mark enrollment verified", slog.Any("error", err))
			return models.ErrInternalServer
		}
		s.audit.Record(ctx, &principalID, models.EventMfaEnrolled, models.EventDetail{
			"method": string(method),
		}, nil)
		s.logger.Info("mfa enrollment verified",
			slog.String("principal_id", principalID),
			slog.String("method", string(method)))
	}

	if !usedBackup {
		s.audit.Record(ctx, &principalID, models.EventMfaVerifySuccess, models.EventDetail{
			"method": string(method),
		}, nil)
	}

	return nil
}

// verifyTOTP checks a client-computed code against the vaulted seed.
func (s *MfaService) verifyTOTP(ctx context.Context, enrollment *models.MfaEnrollment, code string) (bool, error) {
	seed, err := s.vault.Get(ctx, enrollment.VaultRef)
	if err != nil {
		s.logger.Error("failed to fetch totp seed", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	valid, err := s.totpMgr.ValidateTOTP(string(seed), code)
	if err != nil {
		// Malformed input counts as a mismatch.
		return false, nil
	}
	return valid, nil
}

// verifyChallenge checks a delivered code against the newest pending
// challenge and consumes it on a match.
func (s *MfaService) verifyChallenge(ctx context.Context, principalID string, method models.MfaMethod, code string) (bool, error) {
	challenge, err := s.challengeRepo.GetPending(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to load pending challenge", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	// Expired codes are reported as such and never charge the throttle.
	if challenge.Expired(time.Now()) {
		return false, models.ErrCodeExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		return false, nil
	}

	// Single use: losing the consume race is the same as a mismatch.
	if err := s.challengeRepo.Consume(ctx, challenge.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to consume challenge", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return true, nil
}

// Disenroll removes a method. The enrollment row goes first; once it is
// gone the vault ref is unreachable and the seed is purged best-effort.
func (s *MfaService) Disenroll(ctx context.Context, principalID string, method models.MfaMethod) error {
	enrollment, err := s.enrollRepo.GetByPrincipalAndMethod(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.enrollRepo.Delete(ctx, enrollment.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnrolled
		}
		s.logger.Error("failed to delete enrollment", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if enrollment.VaultRef != "" {
		if err := s.vault.Delete(ctx, enrollment.VaultRef); err != nil {
			s.logger.Error("failed to purge totp seed", slog.Any("error", err))
		}
	}

	s.audit.Record(ctx, &principalID, models.EventMfaDisenrolled, models.EventDetail{
		"method": string(method),
	}, nil)

	s.logger.Info("mfa method disenrolled",
		slog.String("principal_id", principalID),
		slog.String("method", string(method)))

	return nil
}

// RegenerateBackupCodes replaces the backup code set wholesale and returns
// the new plaintext codes once.
func (s *MfaService) RegenerateBackupCodes(ctx context.Context, principalID string, method models.MfaMethod) ([]string, error) {
	enrollment, err := s.enrollRepo.GetByPrincipalAndMethod(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codes, entries, err := s.newBackupCodes()
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.enrollRepo.UpdateBackupCodes(ctx, enrollment.ID, entries); err != nil {
		s.logger.Error("failed to store backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(ctx, &principalID, models.EventMfaCodesRotated, models.EventDetail{
		"method": string(method),
	}, nil)

	return codes, nil
}

// Status lists the principal's enrollments and their verification state.
func (s *MfaService) Status(ctx context.Context, principalID string) ([]models.EnrollmentStatus, error) {
	enrollments, err := s.enrollRepo.GetByPrincipalID(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to list enrollments", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	statuses := make([]models.EnrollmentStatus, 0, len(enrollments))
	for _, e := range enrollments {
		statuses = append(statuses, models.EnrollmentStatus{
			Method:            string(e.Method),
			Verified:          e.IsVerified(),
			EnrolledAt:        e.EnrolledAt,
			VerifiedAt:        e.VerifiedAt,
			BackupCodesUnused: e.UnusedBackupCodes(),
		})
	}

	return statuses, nil
}

// VerifiedMethods returns the methods that can satisfy a second-factor
// requirement right now.
func (s *MfaService) VerifiedMethods(ctx context.Context, principalID string) ([]models.MfaMethod, error) {
	enrollments, err := s.enrollRepo.GetVerifiedByPrincipalID(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to list verified enrollments", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	methods := make([]models.MfaMethod, 0, len(enrollments))
	for _, e := range enrollments {
		methods = append(methods, e.Method)
	}

	return methods, nil
}

// newBackupCodes generates the configured number of codes and their hashed
// entries. The plaintext is returned for one-time display.
func (s *MfaService) newBackupCodes() ([]string, []models.BackupCodeEntry, error) {
	codes, err := s.totpMgr.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	now := time.Now()
	entries := make([]models.BackupCodeEntry, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), backupCodeHashCost)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		entries[i] = models.BackupCodeEntry{
			CodeHash:  string(hash),
			CreatedAt: now,
		}
	}

	return codes, entries, nil
}
