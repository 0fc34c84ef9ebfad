package accounts

import "context"

// Store persists account records.
type Store interface {
	// Create inserts a new account. It returns ErrDuplicateEmail when the
	// backend detects an email collision.
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// FindMany returns the subset of ids that exist, keyed by id.
	FindMany(ctx context.Context, ids []string) (map[string]*Account, error)
}
