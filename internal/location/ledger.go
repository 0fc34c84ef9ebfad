package location

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"locshare.org/internal/obs"
)

// StalePolicy decides whether an older sample may replace a newer current value.
type StalePolicy int

const (
	// RejectStale keeps the stored current value when the incoming sample
	// was captured strictly earlier. Equal timestamps overwrite.
	RejectStale StalePolicy = iota
	// AcceptAll lets the last write win regardless of capture time.
	AcceptAll
)

// ParseStalePolicy maps a configuration value to a policy.
func ParseStalePolicy(v string) (StalePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "reject", "reject_stale":
		return RejectStale, nil
	case "accept", "accept_all", "last_write_wins":
		return AcceptAll, nil
	}
	return RejectStale, fmt.Errorf("unknown stale policy %q", v)
}

func (p StalePolicy) String() string {
	if p == AcceptAll {
		return "accept_all"
	}
	return "reject_stale"
}

// Hub fans out current-slot changes to subscribers.
type Hub interface {
	Publish(userID string, s *Sample)
	// Subscribe registers fn for userID. seed is called once while the
	// registration is held so that no publication can slip between the
	// seed read and the first queued update; its value is delivered first.
	Subscribe(userID string, seed func() (*Sample, error), fn func(*Sample)) (cancel func(), err error)
}

// RecordResult describes the outcome of Record.
type RecordResult struct {
	Sample         Sample `json:"sample"`
	CurrentUpdated bool   `json:"current_updated"`
}

// Ledger is the write and read surface for location data.
type Ledger struct {
	store  Store
	hub    Hub
	policy StalePolicy
}

// Option customises a Ledger.
type Option func(*Ledger)

func WithStalePolicy(p StalePolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

func NewLedger(store Store, hub Hub, opts ...Option) *Ledger {
	l := &Ledger{store: store, hub: hub, policy: RejectStale}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy reports the configured stale-overwrite policy.
func (l *Ledger) Policy() StalePolicy { return l.policy }

// Record appends s to userID's history and then overwrites the current slot.
// The two writes are independent: when the second fails the returned error
// wraps ErrCurrentNotUpdated and the history entry remains.
func (l *Ledger) Record(ctx context.Context, userID string, s Sample) (RecordResult, error) {
	s.UserID = userID
	if err := s.Validate(); err != nil {
		return RecordResult{}, err
	}
	stored, err := l.store.AppendHistory(ctx, s)
	if err != nil {
		return RecordResult{}, fmt.Errorf("append history: %w", err)
	}
	obs.LocationsRecorded.Inc()

	updated, err := l.store.OverwriteCurrent(ctx, stored, l.policy == RejectStale)
	if err != nil {
		return RecordResult{Sample: stored}, fmt.Errorf("%w: %w", ErrCurrentNotUpdated, err)
	}
	if !updated {
		obs.StaleOverwritesRejected.Inc()
		return RecordResult{Sample: stored}, nil
	}
	if l.hub != nil {
		cur := stored.Clone()
		cur.Key = ""
		l.hub.Publish(userID, cur)
	}
	return RecordResult{Sample: stored, CurrentUpdated: true}, nil
}

// CurrentOf returns the user's current value or nil.
func (l *Ledger) CurrentOf(ctx context.Context, userID string) (*Sample, error) {
	return l.store.Current(ctx, userID)
}

// HistoryOf returns a lazy, restartable sequence of the user's history.
func (l *Ledger) HistoryOf(ctx context.Context, userID string) iter.Seq2[Sample, error] {
	return l.store.History(ctx, userID)
}

// Subscription is a live registration created by SubscribeCurrent.
type Subscription struct {
	cancel func()
	once   sync.Once
	done   chan struct{}
}

// Cancel stops delivery. It is safe to call more than once; a callback
// already running when Cancel is called may still complete.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// SubscribeCurrent delivers userID's current value (nil when absent) and then
// every later overwrite. The subscription ends when ctx is done or Cancel
// is called.
func (l *Ledger) SubscribeCurrent(ctx context.Context, userID string, fn func(*Sample)) (*Subscription, error) {
	if l.hub == nil {
		return nil, fmt.Errorf("location: no subscriber hub configured")
	}
	seed := func() (*Sample, error) { return l.store.Current(ctx, userID) }
	cancel, err := l.hub.Subscribe(userID, seed, fn)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub, nil
}
