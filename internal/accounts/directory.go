package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"locshare.org/internal/auth"
	"locshare.org/internal/ids"
	"locshare.org/internal/obs"
)

// Directory registers, authenticates and resolves accounts.
type Directory struct {
	store Store
	now   func() time.Time
	cost  int

	throttleRate  rate.Limit
	throttleBurst int

	mu       sync.Mutex
	limiters map[string]*attemptLimiter
}

type attemptLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option customises a Directory.
type Option func(*Directory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPasswordCost sets the bcrypt cost used for new credentials.
func WithPasswordCost(cost int) Option {
	return func(d *Directory) { d.cost = cost }
}

// WithLoginThrottle limits authentication attempts per email address.
// A non-positive perMinute disables throttling.
func WithLoginThrottle(perMinute, burst int) Option {
	return func(d *Directory) {
		if perMinute <= 0 {
			d.throttleRate = rate.Inf
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.throttleRate = rate.Limit(float64(perMinute) / 60.0)
		d.throttleBurst = burst
	}
}

// NewDirectory wires a directory on top of the given store.
func NewDirectory(store Store, opts ...Option) *Directory {
	d := &Directory{
		store:         store,
		now:           time.Now,
		cost:          10,
		throttleRate:  rate.Limit(10.0 / 60.0),
		throttleBurst: 5,
		limiters:      make(map[string]*attemptLimiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register creates an account and returns its id. The email existence check
// and the insert are separate store calls; backends with a unique index
// report a lost race as ErrDuplicateEmail.
func (d *Directory) Register(ctx context.Context, name, email, credential string) (string, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || credential == "" {
		return "", ErrInvalidInput
	}
	if _, err := d.store.FindByEmail(ctx, email); err == nil {
		return "", ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	hash, err := auth.HashPasswordCost(credential, d.cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	now := d.now().UTC()
	acct := &Account{
		ID:           ids.NewAt(now),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := d.store.Create(ctx, acct); err != nil {
		return "", err
	}
	return acct.ID, nil
}

// Authenticate returns the account whose email and credential both match.
func (d *Directory) Authenticate(ctx context.Context, email, credential string) (*Account, error) {
	email = normalizeEmail(email)
	if !d.allow(email) {
		obs.AuthAttempts.WithLabelValues("throttled").Inc()
		return nil, ErrTooManyAttempts
	}
	acct, err := d.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		obs.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(acct.PasswordHash, credential); err != nil {
		obs.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}
	obs.AuthAttempts.WithLabelValues("success").Inc()
	return acct, nil
}

// ResolveByEmail returns the id of the account registered with email.
func (d *Directory) ResolveByEmail(ctx context.Context, email string) (string, bool, error) {
	acct, err := d.store.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return acct.ID, true, nil
}

// Get loads one account by id.
func (d *Directory) Get(ctx context.Context, id string) (*Account, error) {
	return d.store.Find(ctx, id)
}

// Lookup loads the accounts that exist among ids, keyed by id.
func (d *Directory) Lookup(ctx context.Context, ids []string) (map[string]*Account, error) {
	return d.store.FindMany(ctx, ids)
}

// DisplayNames resolves ids to names. Unknown ids map to DefaultDisplayName.
func (d *Directory) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	found, err := d.store.FindMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if a, ok := found[id]; ok && a.Name != "" {
			out[id] = a.Name
			continue
		}
		out[id] = DefaultDisplayName
	}
	return out, nil
}

func (d *Directory) allow(email string) bool {
	if d.throttleRate == rate.Inf {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[email]
	if !ok {
		l = &attemptLimiter{limiter: rate.NewLimiter(d.throttleRate, d.throttleBurst)}
		d.limiters[email] = l
	}
	l.lastSeen = now
	if len(d.limiters) > 1024 {
		d.pruneLocked(now)
	}
	return l.limiter.AllowN(now, 1)
}

func (d *Directory) pruneLocked(now time.Time) {
	for key, l := range d.limiters {
		if now.Sub(l.lastSeen) > 10*time.Minute {
			delete(d.limiters, key)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
