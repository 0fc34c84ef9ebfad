package sharing

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*InMemory)(nil)

// InMemory keeps edges in insertion order.
type InMemory struct {
	mu    sync.RWMutex
	edges []edgeKey
}

type edgeKey struct{ owner, viewer string }

func NewInMemory() *InMemory { return &InMemory{} }

func (s *InMemory) Insert(_ context.Context, ownerID, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := edgeKey{ownerID, viewerID}
	if slices.Contains(s.edges, k) {
		return nil
	}
	s.edges = append(s.edges, k)
	return nil
}

func (s *InMemory) Delete(_ context.Context, ownerID, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = slices.DeleteFunc(s.edges, func(e edgeKey) bool {
		return e.owner == ownerID && e.viewer == viewerID
	})
	return nil
}

func (s *InMemory) Viewers(_ context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for _, e := range s.edges {
		if e.owner == ownerID {
			out = append(out, e.viewer)
		}
	}
	return out, nil
}

func (s *InMemory) Sharers(_ context.Context, viewerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for _, e := range s.edges {
		if e.viewer == viewerID {
			out = append(out, e.owner)
		}
	}
	return out, nil
}
