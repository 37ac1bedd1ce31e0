// Package delivery hands one-time codes to principals out of band. The MFA
// service never learns how a code travels: it hands the plaintext to an
// OtpSender and forgets it.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dogwalking/auth-service/internal/models"
)

// OtpSender delivers a one-time code to a destination address. The plaintext
// code exists only for the duration of the call.
type OtpSender interface {
	Send(ctx context.Context, method models.MfaMethod, destination, code string) error
}

// Router dispatches each code to the sender registered for its method.
type Router struct {
	email OtpSender
	sms   OtpSender
}

// NewRouter creates a Router over per-method senders
func NewRouter(email, sms OtpSender) *Router {
	return &Router{email: email, sms: sms}
}

func (r *Router) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	switch method {
	case models.MfaMethodEmail:
		return r.email.Send(ctx, method, destination, code)
	case models.MfaMethodSMS:
		return r.sms.Send(ctx, method, destination, code)
	default:
		return fmt.Errorf("no sender registered for method %q", method)
	}
}

// LogSender writes codes to the application log instead of delivering them.
// Development only; never configure it in production.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	s.logger.InfoContext(ctx, "one-time code (log delivery)",
		slog.String("method", string(method)),
		slog.String("destination", destination),
		slog.String("code", code),
	)
	return nil
}
