// Package audit records security-relevant actions as structured log entries.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"locshare.org/internal/auth"
	"locshare.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names emitted by the API.
const (
	EventAccountRegistered = "account.registered"
	EventLoginSucceeded    = "auth.login_succeeded"
	EventLoginFailed       = "auth.login_failed"
	EventShareGranted      = "sharing.granted"
	EventShareRevoked      = "sharing.revoked"
	EventAccessDenied      = "location.access_denied"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and session context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{slog.String("type", "audit"), slog.String("event", event)}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if s, ok := auth.SessionFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", s.AccountID))
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	attrs = append(attrs, slog.Any("fields", copied))

	obs.Logger().InfoContext(ctx, "audit", attrs...)
	return nil
}
