package accounts

import (
	"errors"
	"time"
)

// Account is a registered user. Records are immutable after registration.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultDisplayName is shown for ids that cannot be resolved to a name.
const DefaultDisplayName = "User"

var (
	ErrNotFound           = errors.New("accounts: not found")
	ErrDuplicateEmail     = errors.New("accounts: email already registered")
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	ErrInvalidInput       = errors.New("accounts: invalid input")
	ErrTooManyAttempts    = errors.New("accounts: too many authentication attempts")
)
