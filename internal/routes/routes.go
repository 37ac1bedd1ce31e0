package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/dogwalking/auth-service/internal/auth"
	"github.com/dogwalking/auth-service/internal/handlers"
	"github.com/dogwalking/auth-service/internal/middleware"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
)

// RegisterRoutes registers all application routes under /api/v1
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MfaHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	adminToken string,
	rateLimitConfig middleware.RateLimitConfig,
	ipConfig *pkghttp.IPConfig,
) {
	rateLimit := middleware.RateLimitByIP(rateLimitConfig, ipConfig)

	router.Route("/api/v1", func(api chi.Router) {
		// Public routes - no authentication required. Everything here lets an
		// anonymous caller exercise credential or code verification, so each
		// endpoint sits behind the per-IP rate limit.
		api.With(rateLimit).Post("/auth/register", authHandler.Register)
		api.With(rateLimit).Post("/auth/login", authHandler.Login)
		api.With(rateLimit).Post("/auth/mfa/challenge", authHandler.MfaChallenge)
		api.With(rateLimit).Post("/auth/mfa/verify", authHandler.MfaVerify)
		api.With(rateLimit).Post("/auth/token/refresh", authHandler.RefreshToken)

		// Protected routes - access token required
		api.Group(func(r chi.Router) {
			r.Use(auth.Middleware(tokenManager))

			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/auth/password/change", authHandler.ChangePassword)

			// Second-factor management
			r.Post("/mfa/enroll", mfaHandler.Enroll)
			r.Post("/mfa/enroll/verify", mfaHandler.VerifyEnrollment)
			r.Delete("/mfa/{method}", mfaHandler.Disenroll)
			r.Post("/mfa/backup-codes/regenerate", mfaHandler.RegenerateBackupCodes)
			r.Get("/mfa/status", mfaHandler.Status)
		})

		// Operator routes - static admin token required
		api.Group(func(r chi.Router) {
			r.Use(auth.RequireAdminToken(adminToken))

			r.Post("/admin/vault/rotate", adminHandler.RotateVaultKeys)
			r.Get("/admin/events", adminHandler.ListSecurityEvents)
			r.Get("/admin/principals", adminHandler.ListPrincipals)
			r.Get("/admin/principals/{id}", adminHandler.GetPrincipal)
			r.Put("/admin/principals/{id}/status", adminHandler.SetPrincipalStatus)
		})
	})
}
