package logger

import "context"

type ctxKey int

const clientIPKey ctxKey = iota

// WithClientIP stores the request's client address for audit attribution.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the stored client address, or "" when none is set.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
