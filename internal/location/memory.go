package location

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"

	"locshare.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store in process memory.
type InMemory struct {
	mu      sync.RWMutex
	history map[string][]Sample
	current map[string]Sample
}

func NewInMemory() *InMemory {
	return &InMemory{
		history: make(map[string][]Sample),
		current: make(map[string]Sample),
	}
}

func (m *InMemory) AppendHistory(_ context.Context, s Sample) (Sample, error) {
	s.Key = ids.New()
	s.Accuracy = s.Clone().Accuracy
	m.mu.Lock()
	m.history[s.UserID] = append(m.history[s.UserID], s)
	m.mu.Unlock()
	return s, nil
}

func (m *InMemory) OverwriteCurrent(_ context.Context, s Sample, rejectStale bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.current[s.UserID]; ok && rejectStale && s.CapturedAt < prev.CapturedAt {
		return false, nil
	}
	s.Key = ""
	m.current[s.UserID] = *s.Clone()
	return true, nil
}

func (m *InMemory) Current(_ context.Context, userID string) (*Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.current[userID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// History snapshots the user's samples when iteration starts, so each
// iteration is finite and the sequence can be ranged over again.
func (m *InMemory) History(ctx context.Context, userID string) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		m.mu.RLock()
		snapshot := slices.Clone(m.history[userID])
		m.mu.RUnlock()
		slices.SortStableFunc(snapshot, func(a, b Sample) int {
			return cmp.Compare(a.CapturedAt, b.CapturedAt)
		})
		for _, s := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Sample{}, err)
				return
			}
			if !yield(*s.Clone(), nil) {
				return
			}
		}
	}
}
