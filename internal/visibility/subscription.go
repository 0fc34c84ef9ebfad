package visibility

import (
	"fmt"
	"slices"
	"sync"

	"locshare.org/internal/location"
)

// State is the lifecycle of a visible-locations subscription.
type State int

const (
	Uninitialized State = iota
	Resolving
	Active
	TornDown
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Active:
		return "active"
	case TornDown:
		return "torn_down"
	}
	return "uninitialized"
}

// Upsert replaces any prior entry for UserID.
type Upsert struct {
	UserID   string           `json:"user_id"`
	UserName string           `json:"user_name"`
	Self     bool             `json:"self"`
	Sample   *location.Sample `json:"sample"`
}

// MemberError reports a member whose subscription failed.
type MemberError struct {
	UserID string
	Err    error
}

func (e MemberError) Error() string { return fmt.Sprintf("member %s: %v", e.UserID, e.Err) }
func (e MemberError) Unwrap() error { return e.Err }

// Subscription groups the per-member subscriptions of one viewer.
type Subscription struct {
	viewerID string
	members  []string
	live     []*location.Subscription
	errs     chan MemberError
	done     chan struct{}

	mu    sync.Mutex
	state State

	// deliverMu serialises callbacks.
	deliverMu sync.Mutex
	once      sync.Once
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ViewerID returns the subscribing viewer.
func (s *Subscription) ViewerID() string { return s.viewerID }

// Members returns the visible set resolved at subscribe time.
func (s *Subscription) Members() []string { return slices.Clone(s.members) }

// Errors yields per-member failures. It is closed by Unsubscribe.
func (s *Subscription) Errors() <-chan MemberError { return s.errs }

// Done is closed once the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) deliver(fn func(Upsert), u Upsert) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.State() == TornDown {
		return
	}
	fn(u)
}

// Unsubscribe cancels every member subscription. No callback starts after it
// returns, though one already running may finish. It is safe to call more
// than once, including from inside a callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.setState(TornDown)
		for _, ls := range s.live {
			ls.Cancel()
		}
		close(s.done)
		close(s.errs)
	})
}
