// CLAUDE:SUMMARY HTTP middleware for the conversion API: security headers, body limits, request IDs, rate limiting.
// Package shield provides the HTTP middleware stack for the conversion
// API: security headers, request body limits, per-request IDs with a
// scoped logger, and SQLite-backed rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(64 << 20) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack for the API:
// SecurityHeaders, MaxBody, RequestID. Rate limiting is separate
// because it needs a database handle.
func DefaultStack(maxBodyBytes int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBodyBytes),
		RequestID,
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
