package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnauthenticated is returned when an operation needs a session and none is present.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	errMissingSecret   = errors.New("auth: secret is not configured")
)
