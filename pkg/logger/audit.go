package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one security-trail record as it appears in the log stream.
// The Postgres security_events table is the durable copy; this logger is the
// immediate, grep-able mirror.
type AuditEvent struct {
	Kind        string
	PrincipalID string
	IPAddress   string
	Success     bool
	Detail      map[string]interface{}
}

// AuditLogger provides structured security audit logging
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent writes one audit record: Info for successes, Warn for
// failures, always under audit_type=security so the trail can be filtered
// out of ordinary application logs.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("kind", event.Kind),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", event.PrincipalID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if len(event.Detail) > 0 {
		attrs = append(attrs, slog.Any("detail", event.Detail))
	}

	if event.Success {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
	}
}
