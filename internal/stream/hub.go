// Package stream fan-outs current-location changes to live subscribers.
package stream

import (
	"sync"
	"sync/atomic"

	"locshare.org/internal/location"
	"locshare.org/internal/obs"
)

// DefaultMailbox is the number of pending updates kept per subscriber.
const DefaultMailbox = 16

var _ location.Hub = (*Hub)(nil)

// Forwarder receives every local publication, e.g. to relay it to other replicas.
type Forwarder func(userID string, s *location.Sample)

// Hub keeps per-user subscriber sets. Each subscriber has its own delivery
// goroutine, so a slow callback never blocks publishers or other subscribers.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]*topic
	mailbox int
	forward atomic.Pointer[Forwarder]
}

type topic struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	dead bool
}

// New initialises an empty hub. mailbox <= 0 selects DefaultMailbox.
func New(mailbox int) *Hub {
	if mailbox <= 0 {
		mailbox = DefaultMailbox
	}
	return &Hub{topics: make(map[string]*topic), mailbox: mailbox}
}

// SetForwarder installs fn to be called after each local Publish.
func (h *Hub) SetForwarder(fn Forwarder) {
	if fn == nil {
		h.forward.Store(nil)
		return
	}
	h.forward.Store(&fn)
}

func (h *Hub) topic(userID string, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[userID]
	if !ok && create {
		t = &topic{subs: make(map[*subscriber]struct{})}
		h.topics[userID] = t
	}
	return t
}

func (h *Hub) dropTopicIfEmpty(userID string, t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 && h.topics[userID] == t {
		t.dead = true
		delete(h.topics, userID)
	}
}

// Subscribe registers fn for userID. The seed value is read while the topic is
// locked and is the first value delivered.
func (h *Hub) Subscribe(userID string, seed func() (*location.Sample, error), fn func(*location.Sample)) (func(), error) {
	for {
		t := h.topic(userID, true)
		t.mu.Lock()
		if t.dead {
			// Lost a race with dropTopicIfEmpty; retry on a fresh topic.
			t.mu.Unlock()
			continue
		}
		sub := newSubscriber(h.mailbox, fn)
		if seed != nil {
			initial, err := seed()
			if err != nil {
				t.mu.Unlock()
				h.dropTopicIfEmpty(userID, t)
				return nil, err
			}
			sub.enqueue(initial)
		}
		t.subs[sub] = struct{}{}
		t.mu.Unlock()

		obs.ActiveSubscriptions.Inc()
		go sub.run()

		var once sync.Once
		cancel := func() {
			once.Do(func() {
				t.mu.Lock()
				delete(t.subs, sub)
				t.mu.Unlock()
				sub.stop()
				obs.ActiveSubscriptions.Dec()
				h.dropTopicIfEmpty(userID, t)
			})
		}
		return cancel, nil
	}
}

// Publish delivers s to local subscribers of userID and then to the forwarder.
func (h *Hub) Publish(userID string, s *location.Sample) {
	h.Deliver(userID, s)
	if fwd := h.forward.Load(); fwd != nil {
		(*fwd)(userID, s)
	}
}

// Deliver fans s out to local subscribers only.
func (h *Hub) Deliver(userID string, s *location.Sample) {
	t := h.topic(userID, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		sub.enqueue(s.Clone())
	}
}

// Subscribers reports how many live subscriptions userID has.
func (h *Hub) Subscribers(userID string) int {
	t := h.topic(userID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type subscriber struct {
	fn   func(*location.Sample)
	size int
	wake chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	pending []*location.Sample
}

func newSubscriber(size int, fn func(*location.Sample)) *subscriber {
	return &subscriber{
		fn:   fn,
		size: size,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// enqueue appends s, dropping the oldest pending update when the mailbox is full.
func (s *subscriber) enqueue(v *location.Sample) {
	s.mu.Lock()
	if len(s.pending) >= s.size {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (*location.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	v := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return v, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			select {
			case <-s.quit:
				return
			default:
			}
			v, ok := s.next()
			if !ok {
				break
			}
			s.fn(v)
		}
	}
}

func (s *subscriber) stop() {
	close(s.quit)
}
