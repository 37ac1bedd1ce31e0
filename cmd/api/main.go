package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/background"
	"github.com/dogwalking/auth-service/internal/config"
	"github.com/dogwalking/auth-service/internal/database"
	"github.com/dogwalking/auth-service/internal/delivery"
	"github.com/dogwalking/auth-service/internal/handlers"
	"github.com/dogwalking/auth-service/internal/metrics"
	middlewareCustom "github.com/dogwalking/auth-service/internal/middleware"
	"github.com/dogwalking/auth-service/internal/repositories"
	"github.com/dogwalking/auth-service/internal/routes"
	"github.com/dogwalking/auth-service/internal/services"
	"github.com/dogwalking/auth-service/internal/vault"
	pkgauth "github.com/dogwalking/auth-service/pkg/auth"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply pending migrations before the pool opens
	if cfg.Database.AutoMigrate {
		if err := runMigrations(&cfg.Database, logger); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	principalRepo := repositories.NewPrincipalRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	enrollmentRepo := repositories.NewMfaEnrollmentRepository(db)
	challengeRepo := repositories.NewMfaChallengeRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	vaultItemRepo := repositories.NewVaultItemRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		challengeRepo, sessionRepo, lockoutRepo, enrollmentRepo,
		logger, cfg.Auth.CleanupInterval,
	)

	// Token, TOTP, and timing primitives
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry)
	totpManager := auth.NewTOTPManager(cfg.Mfa.TOTPIssuer)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay: cfg.Auth.TimingBaseDelay,
		Jitter:    cfg.Auth.TimingJitter,
	})

	// Audit trail
	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(eventRepo, auditLogger, logger)

	// Secret vault
	keyRing, err := vault.NewKeyRing(cfg.Vault.Keys, cfg.Vault.ActiveVersion)
	if err != nil {
		logger.Error("failed to build vault key ring", slog.Any("error", err))
		os.Exit(1)
	}
	secretVault := vault.New(keyRing, vaultItemRepo, auditService, logger)

	// OTP delivery
	otpSender, err := buildOtpSender(&cfg.Delivery, logger)
	if err != nil {
		logger.Error("failed to initialize OTP delivery", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
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
		otpSender,
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

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	mfaHandler := handlers.NewMfaHandler(mfaService)
	adminHandler := handlers.NewAdminHandler(adminService)

	// Client IP resolution honors forwarded headers only from trusted proxies,
	// so chi's RealIP middleware stays out of the chain.
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("failed to parse trusted proxy ranges", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.RequestLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	rateLimitConfig := middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRatePerMinute}
	routes.RegisterRoutes(router, authHandler, mfaHandler, adminHandler,
		tokenManager, cfg.Auth.AdminToken, rateLimitConfig, ipConfig)

	// Health check with database
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Prometheus metrics
	router.Get("/metrics", metrics.Handler().ServeHTTP)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// runMigrations applies pending goose migrations from the migrations directory
func runMigrations(cfg *config.DatabaseConfig, logger *slog.Logger) error {
	migrationDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer migrationDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(migrationDB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info("database migrations up to date")
	return nil
}

// buildOtpSender wires the per-method delivery backends from configuration.
// Unconfigured providers fall back to the log sender.
func buildOtpSender(cfg *config.DeliveryConfig, logger *slog.Logger) (delivery.OtpSender, error) {
	var email delivery.OtpSender = delivery.NewLogSender(logger)
	if cfg.EmailProvider == "ses" {
		sender, err := delivery.NewSESEmailSender(cfg.AWSRegion, cfg.EmailFrom, logger)
		if err != nil {
			return nil, err
		}
		email = sender
	}

	var sms delivery.OtpSender = delivery.NewLogSender(logger)
	if cfg.SmsProvider == "sns" {
		sender, err := delivery.NewSNSSMSSender(cfg.AWSRegion, cfg.SmsSenderID, logger)
		if err != nil {
			return nil, err
		}
		sms = sender
	}

	return delivery.NewRouter(email, sms), nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
