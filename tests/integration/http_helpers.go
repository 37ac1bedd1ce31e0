package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/config"
	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/handlers"
	middlewareCustom "github.com/dogwalking/auth-service/internal/middleware"
	"github.com/dogwalking/auth-service/internal/models"
	"github.com/dogwalking/auth-service/internal/repositories"
	"github.com/dogwalking/auth-service/internal/routes"
	"github.com/dogwalking/auth-service/internal/services"
	"github.com/dogwalking/auth-service/internal/vault"
	pkgauth "github.com/dogwalking/auth-service/pkg/auth"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// AdminToken gates the operational endpoints of the test server
const AdminToken = "integration-admin-token"

// Vault key ring for the test server. Version 1 exists only so rotation
// tests have an old version to migrate away from; version 2 is active.
var (
	VaultKeyV1 = []byte("0123456789abcdef0123456789abcdef")
	VaultKeyV2 = []byte("fedcba9876543210fedcba9876543210")
)

// SentCode is one captured OTP delivery
type SentCode struct {
	Method      models.MfaMethod
	Destination string
	Code        string
}

// CapturingSender records delivered codes for test assertions instead of
// calling a provider
type CapturingSender struct {
	mu    sync.Mutex
	Codes []SentCode
}

func (c *CapturingSender) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Codes = append(c.Codes, SentCode{Method: method, Destination: destination, Code: code})
	return nil
}

// LastCode returns the most recently delivered code, or nil
func (c *CapturingSender) LastCode() *SentCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.Codes) == 0 {
		return nil
	}
	return &c.Codes[len(c.Codes)-1]
}

// TestServer wraps httptest.Server with the full service stack on a real
// database and a captured delivery channel
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Sender *CapturingSender
	Config *config.Config

	logger *slog.Logger
}

// NewTestServer wires the production dependency graph against the given
// database, swapping only the OTP delivery for a capturing fake
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:              "0",
			Env:               "test",
			TrustedProxies:    []string{},
			AuthRatePerMinute: 1000,
		},
		Auth: config.AuthConfig{
			JWTSecret:          "integration-test-secret-0123456789abcdef",
			Issuer:             "auth-service-test",
			AdminToken:         AdminToken,
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			CleanupInterval:    time.Hour,
			TimingBaseDelay:    time.Millisecond,
			TimingJitter:       0,
		},
		Lockout: config.LockoutConfig{
			Threshold:    3,
			BaseDuration: time.Minute,
			MaxDuration:  15 * time.Minute,
		},
		Password: config.PasswordConfig{
			MinLength:    12,
			MaxLength:    64,
			HistoryLimit: 3,
		},
		Mfa: config.MfaConfig{
			TOTPIssuer:      "AuthServiceTest",
			BackupCodeCount: 8,
			OtpDigits:       6,
			OtpTTL:          5 * time.Minute,
		},
		Vault: config.VaultConfig{
			Keys:          map[int][]byte{1: VaultKeyV1, 2: VaultKeyV2},
			ActiveVersion: 2,
		},
	}

	principalRepo := repositories.NewPrincipalRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	enrollmentRepo := repositories.NewMfaEnrollmentRepository(db)
	challengeRepo := repositories.NewMfaChallengeRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	vaultItemRepo := repositories.NewVaultItemRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry)
	totpManager := auth.NewTOTPManager(cfg.Mfa.TOTPIssuer)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay: cfg.Auth.TimingBaseDelay,
		Jitter:    cfg.Auth.TimingJitter,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(eventRepo, auditLogger, logger)

	keyRing, err := vault.NewKeyRing(cfg.Vault.Keys, cfg.Vault.ActiveVersion)
	if err != nil {
		return nil, err
	}
	secretVault := vault.New(keyRing, vaultItemRepo, auditService, logger)

	sender := &CapturingSender{}

	lockoutService := services.NewLockoutService(lockoutRepo, auditService, services.LockoutConfig{
		Threshold:    cfg.Lockout.Threshold,
		BaseDuration: cfg.Lockout.BaseDuration,
		MaxDuration:  cfg.Lockout.MaxDuration,
	}, logger)

	sessionService := services.NewSessionService(sessionRepo, tokenManager, auditService, services.SessionConfig{
		RefreshTokenTTL: cfg.Auth.RefreshTokenExpiry,
	}, logger)

	credentialService := services.NewCredentialService(
		credentialRepo,
		principalRepo,
		sessionService,
		auditService,
		services.CredentialConfig{
			Policy: pkgauth.PasswordPolicy{
				MinLength: cfg.Password.MinLength,
				MaxLength: cfg.Password.MaxLength,
			},
			HistoryLimit: cfg.Password.HistoryLimit,
		},
		logger,
	)

	mfaService := services.NewMfaService(
		enrollmentRepo,
		challengeRepo,
		secretVault,
		principalRepo,
		lockoutService,
		totpManager,
		sender,
		auditService,
		services.MfaConfig{
			BackupCodeCount: cfg.Mfa.BackupCodeCount,
			OtpDigits:       cfg.Mfa.OtpDigits,
			OtpTTL:          cfg.Mfa.OtpTTL,
		},
		logger,
	)

	authService := services.NewAuthService(
		principalRepo,
		credentialService,
		lockoutService,
		mfaService,
		sessionService,
		timingDelay,
		auditService,
		logger,
	)

	adminService := services.NewAdminService(
		principalRepo,
		sessionService,
		secretVault,
		auditService,
		logger,
	)

	authHandler := handlers.NewAuthHandler(authService)
	mfaHandler := handlers.NewMfaHandler(mfaService)
	adminHandler := handlers.NewAdminHandler(adminService)

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	rateLimitConfig := middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRatePerMinute}
	routes.RegisterRoutes(r, authHandler, mfaHandler, adminHandler,
		tokenManager, cfg.Auth.AdminToken, rateLimitConfig, ipConfig)

	return &TestServer{
		Server: httptest.NewServer(r),
		DB:     db,
		Sender: sender,
		Config: cfg,
		logger: logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with an access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// RequestAsAdmin makes an HTTP request carrying the admin token
func (ts *TestServer) RequestAsAdmin(method, path string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"X-Admin-Token": AdminToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// AuthTokens is the token slice of a handshake response
type AuthTokens struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	MfaRequired  bool
	MfaMethods   []string
}

// ExtractTokensFromResponse pulls tokens or the MFA continuation out of a
// handshake response
func ExtractTokensFromResponse(resp *http.Response) (*AuthTokens, error) {
	defer resp.Body.Close()

	var body struct {
		MfaRequired bool     `json:"mfa_required"`
		MfaMethods  []string `json:"mfa_methods"`
		Tokens      *struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			SessionID    string `json:"session_id"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := &AuthTokens{
		MfaRequired: body.MfaRequired,
		MfaMethods:  body.MfaMethods,
	}
	if body.Tokens != nil {
		out.AccessToken = body.Tokens.AccessToken
		out.RefreshToken = body.Tokens.RefreshToken
		out.SessionID = body.Tokens.SessionID
	}
	return out, nil
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
