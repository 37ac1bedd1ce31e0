package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dogwalking/auth-service/internal/models"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// MockPrincipalRepository implements PrincipalRepository for testing
type MockPrincipalRepository struct {
	GetByIDFunc              func(ctx context.Context, id string) (*models.Principal, error)
	GetByEmailFunc           func(ctx context.Context, email string) (*models.Principal, error)
	ListFunc                 func(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	CreateWithCredentialFunc func(ctx context.Context, principal *models.Principal, passwordHash string) (*models.Principal, error)
	UpdateStatusFunc         func(ctx context.Context, id, status string) error
	UpdateLastSuccessFunc    func(ctx context.Context, id string, at time.Time) error
}

func (m *MockPrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Principal{}, nil
}

func (m *MockPrincipalRepository) CreateWithCredential(ctx context.Context, principal *models.Principal, passwordHash string) (*models.Principal, error) {
	if m.CreateWithCredentialFunc != nil {
		return m.CreateWithCredentialFunc(ctx, principal, passwordHash)
	}
	// Auto-generate an ID like the real repository does
	created := *principal
	created.ID = uuid.New().String()
	created.Status = models.PrincipalStatusActive
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

func (m *MockPrincipalRepository) UpdateStatus(ctx context.Context, id, status string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockPrincipalRepository) UpdateLastSuccess(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastSuccessFunc != nil {
		return m.UpdateLastSuccessFunc(ctx, id, at)
	}
	return nil
}

// MockCredentialRepository implements CredentialRepository for testing
type MockCredentialRepository struct {
	GetByPrincipalIDFunc func(ctx context.Context, principalID string) (*models.Credential, error)
	UpdateFunc           func(ctx context.Context, cred *models.Credential) error
	UpdatedCreds         []*models.Credential
}

func (m *MockCredentialRepository) GetByPrincipalID(ctx context.Context, principalID string) (*models.Credential, error) {
	if m.GetByPrincipalIDFunc != nil {
		return m.GetByPrincipalIDFunc(ctx, principalID)
	}
	return nil, models.ErrNotFound
}

func (m *MockCredentialRepository) Update(ctx context.Context, cred *models.Credential) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, cred)
	}
	m.UpdatedCreds = append(m.UpdatedCreds, cred)
	return nil
}

// MockLockoutRepository implements LockoutRepository for testing
type MockLockoutRepository struct {
	GetFunc           func(ctx context.Context, principalID, scope string) (*models.LockoutState, error)
	RecordFailureFunc func(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error)
	RecordSuccessFunc func(ctx context.Context, principalID, scope string) error
}

func (m *MockLockoutRepository) Get(ctx context.Context, principalID, scope string) (*models.LockoutState, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, principalID, scope)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockoutRepository) RecordFailure(ctx context.Context, principalID, scope string, threshold int, base, max time.Duration) (*models.LockoutState, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, principalID, scope, threshold, base, max)
	}
	return &models.LockoutState{
		PrincipalID:    principalID,
		Scope:          scope,
		FailedAttempts: 1,
		UpdatedAt:      time.Now(),
	}, nil
}

func (m *MockLockoutRepository) RecordSuccess(ctx context.Context, principalID, scope string) error {
	if m.RecordSuccessFunc != nil {
		return m.RecordSuccessFunc(ctx, principalID, scope)
	}
	return nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc                func(ctx context.Context, session *models.Session, tokenHash string) (*models.Session, error)
	GetByIDFunc               func(ctx context.Context, sessionID string) (*models.Session, error)
	GetRefreshTokenFunc       func(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateRefreshFunc         func(ctx context.Context, sessionID string, fromGeneration int, newTokenHash string) (*models.Session, error)
	RevokeFunc                func(ctx context.Context, sessionID, reason string) error
	RevokeAllForPrincipalFunc func(ctx context.Context, principalID, reason string) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session, tokenHash string) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session, tokenHash)
	}
	created := *session
	created.ID = uuid.New().String()
	created.RefreshGeneration = 1
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, sessionID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) RotateRefresh(ctx context.Context, sessionID string, fromGeneration int, newTokenHash string) (*models.Session, error) {
	if m.RotateRefreshFunc != nil {
		return m.RotateRefreshFunc(ctx, sessionID, fromGeneration, newTokenHash)
	}
	return nil, models.ErrConflict
}

func (m *MockSessionRepository) Revoke(ctx context.Context, sessionID, reason string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sessionID, reason)
	}
	return nil
}

func (m *MockSessionRepository) RevokeAllForPrincipal(ctx context.Context, principalID, reason string) (int64, error) {
	if m.RevokeAllForPrincipalFunc != nil {
		return m.RevokeAllForPrincipalFunc(ctx, principalID, reason)
	}
	return 0, nil
}

// MockSessionRevoker implements SessionRevoker for testing
type MockSessionRevoker struct {
	RevokeAllForPrincipalFunc func(ctx context.Context, principalID, reason string) error
	Revoked                   []string // "<principalID>:<reason>" per call
}

func (m *MockSessionRevoker) RevokeAllForPrincipal(ctx context.Context, principalID, reason string) error {
	if m.RevokeAllForPrincipalFunc != nil {
		return m.RevokeAllForPrincipalFunc(ctx, principalID, reason)
	}
	m.Revoked = append(m.Revoked, principalID+":"+reason)
	return nil
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc           func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	GetByPrincipalIDFunc func(ctx context.Context, principalID string, limit, offset int) ([]*models.SecurityEvent, error)
	GetByKindFunc        func(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
	ListFunc             func(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
	CreatedEvents        []*models.SecurityEvent
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	m.CreatedEvents = append(m.CreatedEvents, event)
	return event, nil
}

func (m *MockSecurityEventRepository) GetByPrincipalID(ctx context.Context, principalID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.GetByPrincipalIDFunc != nil {
		return m.GetByPrincipalIDFunc(ctx, principalID, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) GetByKind(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.GetByKindFunc != nil {
		return m.GetByKindFunc(ctx, kind, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) List(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

// Kinds returns the recorded event kinds in order.
func (m *MockSecurityEventRepository) Kinds() []string {
	kinds := make([]string, 0, len(m.CreatedEvents))
	for _, e := range m.CreatedEvents {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Has reports whether an event of the given kind was recorded.
func (m *MockSecurityEventRepository) Has(kind string) bool {
	for _, e := range m.CreatedEvents {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// ============================================================================
// MFA Test Mocks
// ============================================================================

// MockEnrollmentRepository implements repositories.MfaEnrollmentRepository
// for testing
type MockEnrollmentRepository struct {
	CreateFunc                    func(ctx context.Context, enrollment *models.MfaEnrollment) error
	GetByIDFunc                   func(ctx context.Context, enrollmentID string) (*models.MfaEnrollment, error)
	GetByPrincipalAndMethodFunc   func(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaEnrollment, error)
	GetByPrincipalIDFunc          func(ctx context.Context, principalID string) ([]models.MfaEnrollment, error)
	GetVerifiedByPrincipalIDFunc  func(ctx context.Context, principalID string) ([]models.MfaEnrollment, error)
	MarkAsVerifiedFunc            func(ctx context.Context, enrollmentID string) error
	UpdateBackupCodesFunc         func(ctx context.Context, enrollmentID string, codes []models.BackupCodeEntry) error
	ConsumeBackupCodeFunc         func(ctx context.Context, enrollmentID string, verify func(hash string) bool) (int, error)
	DeleteFunc                    func(ctx context.Context, enrollmentID string) error
	DeleteUnverifiedOlderThanFunc func(ctx context.Context, age time.Duration) (int64, error)
}

func (m *MockEnrollmentRepository) Create(ctx context.Context, enrollment *models.MfaEnrollment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, enrollment)
	}
	enrollment.ID = uuid.New().String()
	enrollment.EnrolledAt = time.Now()
	return nil
}

func (m *MockEnrollmentRepository) GetByID(ctx context.Context, enrollmentID string) (*models.MfaEnrollment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, enrollmentID)
	}
	return nil, models.ErrNotFound
}

func (m *MockEnrollmentRepository) GetByPrincipalAndMethod(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaEnrollment, error) {
	if m.GetByPrincipalAndMethodFunc != nil {
		return m.GetByPrincipalAndMethodFunc(ctx, principalID, method)
	}
	return nil, models.ErrNotFound
}

func (m *MockEnrollmentRepository) GetByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error) {
	if m.GetByPrincipalIDFunc != nil {
		return m.GetByPrincipalIDFunc(ctx, principalID)
	}
	return []models.MfaEnrollment{}, nil
}

func (m *MockEnrollmentRepository) GetVerifiedByPrincipalID(ctx context.Context, principalID string) ([]models.MfaEnrollment, error) {
	if m.GetVerifiedByPrincipalIDFunc != nil {
		return m.GetVerifiedByPrincipalIDFunc(ctx, principalID)
	}
	return []models.MfaEnrollment{}, nil
}

func (m *MockEnrollmentRepository) MarkAsVerified(ctx context.Context, enrollmentID string) error {
	if m.MarkAsVerifiedFunc != nil {
		return m.MarkAsVerifiedFunc(ctx, enrollmentID)
	}
	return nil
}

func (m *MockEnrollmentRepository) UpdateBackupCodes(ctx context.Context, enrollmentID string, codes []models.BackupCodeEntry) error {
	if m.UpdateBackupCodesFunc != nil {
		return m.UpdateBackupCodesFunc(ctx, enrollmentID, codes)
	}
	return nil
}

func (m *MockEnrollmentRepository) ConsumeBackupCode(ctx context.Context, enrollmentID string, verify func(hash string) bool) (int, error) {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, enrollmentID, verify)
	}
	return 0, models.ErrCodeMismatch
}

func (m *MockEnrollmentRepository) Delete(ctx context.Context, enrollmentID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, enrollmentID)
	}
	return nil
}

func (m *MockEnrollmentRepository) DeleteUnverifiedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if m.DeleteUnverifiedOlderThanFunc != nil {
		return m.DeleteUnverifiedOlderThanFunc(ctx, age)
	}
	return 0, nil
}

// MockChallengeRepository implements ChallengeRepository for testing
type MockChallengeRepository struct {
	CreateFunc     func(ctx context.Context, challenge *models.MfaChallenge) (*models.MfaChallenge, error)
	GetPendingFunc func(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaChallenge, error)
	ConsumeFunc    func(ctx context.Context, challengeID string) error
	Consumed       []string
}

func (m *MockChallengeRepository) Create(ctx context.Context, challenge *models.MfaChallenge) (*models.MfaChallenge, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, challenge)
	}
	created := *challenge
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now()
	return &created, nil
}

func (m *MockChallengeRepository) GetPending(ctx context.Context, principalID string, method models.MfaMethod) (*models.MfaChallenge, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, principalID, method)
	}
	return nil, models.ErrNotFound
}

func (m *MockChallengeRepository) Consume(ctx context.Context, challengeID string) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, challengeID)
	}
	m.Consumed = append(m.Consumed, challengeID)
	return nil
}

// MockSecretVault implements SecretVault for testing, backed by a map.
type MockSecretVault struct {
	PutFunc    func(ctx context.Context, ref string, plaintext []byte) (*models.VaultItem, error)
	GetFunc    func(ctx context.Context, ref string) ([]byte, error)
	DeleteFunc func(ctx context.Context, ref string) error
	Items      map[string][]byte
}

func NewMockSecretVault() *MockSecretVault {
	return &MockSecretVault{Items: make(map[string][]byte)}
}

func (m *MockSecretVault) Put(ctx context.Context, ref string, plaintext []byte) (*models.VaultItem, error) {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, ref, plaintext)
	}
	m.Items[ref] = append([]byte(nil), plaintext...)
	return &models.VaultItem{Ref: ref, KeyVersion: 1}, nil
}

func (m *MockSecretVault) Get(ctx context.Context, ref string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ref)
	}
	plaintext, ok := m.Items[ref]
	if !ok {
		return nil, models.ErrNotFound
	}
	return plaintext, nil
}

func (m *MockSecretVault) Delete(ctx context.Context, ref string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, ref)
	}
	delete(m.Items, ref)
	return nil
}

// MockOtpSender implements delivery.OtpSender for testing and captures the
// codes it was handed.
type MockOtpSender struct {
	SendFunc     func(ctx context.Context, method models.MfaMethod, destination, code string) error
	Destinations []string
	Codes        []string
}

func (m *MockOtpSender) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, method, destination, code)
	}
	m.Destinations = append(m.Destinations, destination)
	m.Codes = append(m.Codes, code)
	return nil
}

// MockVaultRotator implements VaultRotator for testing
type MockVaultRotator struct {
	RotateFunc func(ctx context.Context) (*models.RotationReport, error)
}

func (m *MockVaultRotator) Rotate(ctx context.Context) (*models.RotationReport, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx)
	}
	return &models.RotationReport{ActiveVersion: 1}, nil
}

// ============================================================================
// Test Data Builders
// ============================================================================

// NewTestPrincipal creates an active principal
func NewTestPrincipal(id, email string) *models.Principal {
	now := time.Now()
	return &models.Principal{
		ID:        id,
		Email:     email,
		Status:    models.PrincipalStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestPrincipalDisabled creates a soft-disabled principal
func NewTestPrincipalDisabled(id, email string) *models.Principal {
	principal := NewTestPrincipal(id, email)
	principal.Status = models.PrincipalStatusDisabled
	return principal
}

// NewTestCredential creates a credential with the given hash and history
func NewTestCredential(principalID, currentHash string, history ...string) *models.Credential {
	return &models.Credential{
		PrincipalID: principalID,
		CurrentHash: currentHash,
		History:     history,
		ChangedAt:   time.Now().Add(-24 * time.Hour),
	}
}

// NewTestSession creates a live session at the given refresh generation
func NewTestSession(id, principalID string, generation int) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                id,
		PrincipalID:       principalID,
		RefreshGeneration: generation,
		ExpiresAt:         now.Add(30 * 24 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewTestSessionRevoked creates a revoked session
func NewTestSessionRevoked(id, principalID string, reason string) *models.Session {
	session := NewTestSession(id, principalID, 1)
	now := time.Now()
	session.RevokedAt = &now
	session.RevokeReason = &reason
	return session
}

// NewTestEnrollment creates a verified enrollment
func NewTestEnrollment(id, principalID string, method models.MfaMethod) *models.MfaEnrollment {
	now := time.Now()
	verifiedAt := now.Add(-time.Hour)
	return &models.MfaEnrollment{
		ID:          id,
		PrincipalID: principalID,
		Method:      method,
		EnrolledAt:  now.Add(-2 * time.Hour),
		VerifiedAt:  &verifiedAt,
	}
}

// NewTestEnrollmentUnverified creates an enrollment pending first verification
func NewTestEnrollmentUnverified(id, principalID string, method models.MfaMethod) *models.MfaEnrollment {
	enrollment := NewTestEnrollment(id, principalID, method)
	enrollment.VerifiedAt = nil
	return enrollment
}

// NewTestBackupCodes creates backup code entries with placeholder hashes;
// used[i] marks entry i as already consumed
func NewTestBackupCodes(count int, used []bool) []models.BackupCodeEntry {
	entries := make([]models.BackupCodeEntry, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		entry := models.BackupCodeEntry{
			CodeHash:  fmt.Sprintf("hash_%d", i),
			CreatedAt: now,
		}
		if i < len(used) && used[i] {
			usedTime := now.Add(-1 * time.Hour)
			entry.UsedAt = &usedTime
		}
		entries[i] = entry
	}
	return entries
}

// NewTestChallenge creates a pending challenge expiring after ttl
func NewTestChallenge(id, principalID string, method models.MfaMethod, codeHash string, ttl time.Duration) *models.MfaChallenge {
	now := time.Now()
	return &models.MfaChallenge{
		ID:          id,
		PrincipalID: principalID,
		Method:      method,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}

// NewTestLockoutState creates an open lockout state with the given attempts
func NewTestLockoutState(principalID, scope string, attempts int) *models.LockoutState {
	return &models.LockoutState{
		PrincipalID:    principalID,
		Scope:          scope,
		FailedAttempts: attempts,
		UpdatedAt:      time.Now(),
	}
}

// NewTestLockoutStateLocked creates a tripped lockout state
func NewTestLockoutStateLocked(principalID, scope string, lockoutCount int, remaining time.Duration) *models.LockoutState {
	lockedUntil := time.Now().Add(remaining)
	return &models.LockoutState{
		PrincipalID:  principalID,
		Scope:        scope,
		LockoutCount: lockoutCount,
		LockedUntil:  &lockedUntil,
		UpdatedAt:    time.Now(),
	}
}

// newCaptureAudit builds an audit service whose events land in the returned
// mock repository.
func newCaptureAudit() (*AuditService, *MockSecurityEventRepository) {
	repo := &MockSecurityEventRepository{}
	logger := slog.Default()
	return NewAuditService(repo, pkglogger.NewAuditLogger(logger), logger), repo
}
