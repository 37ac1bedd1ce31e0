package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dogwalking/auth-service/internal/metrics"
	pkghttp "github.com/dogwalking/auth-service/pkg/http"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// RequestLogger logs every request with status, size and duration, and
// injects the resolved client IP into the request context. The audit trail
// reads that IP from the context, so this middleware must run before any
// handler that records security events.
func RequestLogger(logger *slog.Logger, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			clientIP := pkghttp.ExtractClientIP(r, ipConfig)
			r = r.WithContext(pkglogger.WithClientIP(r.Context(), clientIP))

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			statusCode := wrapped.Status()
			metrics.ObserveRequest(r.Method, statusCode)

			// Query strings on this surface can carry tokens or codes.
			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path = path + "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path = r.URL.Path + "?" + r.URL.RawQuery
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", statusCode),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", duration.String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("client_ip", clientIP),
			}

			logger.LogAttrs(context.Background(), slog.LevelInfo, "http_request", attrs...)
		})
	}
}
