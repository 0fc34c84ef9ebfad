package auth

import (
	"context"
	"strings"
)

// Session identifies the caller of every core operation. It is carried
// explicitly through context.Context and never stored globally.
type Session struct {
	AccountID string
	Name      string
	Email     string
}

type sessionContextKey struct{}
type tokenContextKey struct{}

// ContextWithSession attaches the authenticated session to the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	s.AccountID = strings.TrimSpace(s.AccountID)
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext extracts the authenticated session from the context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || s.AccountID == "" {
		return Session{}, false
	}
	return s, true
}

// RequireSession is SessionFromContext returning ErrUnauthenticated when absent.
func RequireSession(ctx context.Context) (Session, error) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	return s, nil
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
