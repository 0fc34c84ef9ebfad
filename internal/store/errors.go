// Package store holds the error taxonomy shared by every storage backend.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable reports a transport or remote failure of the backing store.
var ErrUnavailable = errors.New("storage unavailable")

// Unavailable wraps a backend failure so callers can match it with errors.Is.
// Context cancellation is passed through untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
