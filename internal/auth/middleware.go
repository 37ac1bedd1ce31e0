package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dogwalking/auth-service/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing access claims in context
	PrincipalContextKey contextKey = "principal"
)

// Middleware validates bearer access tokens and injects the claims into the
// request context. Verification is stateless: signature, expiry and type are
// checked from the token alone, so a revoked session keeps its access token
// working only until the short expiry runs out.
func Middleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, models.ErrSessionExpired) {
					http.Error(w, "token expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// Inject claims into context
			ctx := context.WithValue(r.Context(), PrincipalContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminToken gates operational endpoints behind a static bearer token
// from configuration. Comparison is constant time.
func RequireAdminToken(adminToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}

			presented := r.Header.Get("X-Admin-Token")
			if presented == "" {
				http.Error(w, "missing admin token", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(adminToken)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipalFromContext extracts the verified access claims from the
// request context. Returns nil outside of Middleware.
func GetPrincipalFromContext(r *http.Request) *models.AccessClaims {
	claims, ok := r.Context().Value(PrincipalContextKey).(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}
