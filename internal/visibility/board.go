package visibility

import "slices"

// Board is the keyed collection a viewer builds from upserts: one entry per
// user, the viewer's own entry first, the rest in first-seen order.
type Board struct {
	viewerID string
	order    []string
	entries  map[string]Upsert
}

func NewBoard(viewerID string) *Board {
	return &Board{viewerID: viewerID, entries: make(map[string]Upsert)}
}

// Apply upserts u. Upserts without a sample leave the board unchanged.
func (b *Board) Apply(u Upsert) {
	if u.Sample == nil {
		return
	}
	if _, ok := b.entries[u.UserID]; !ok {
		if u.UserID == b.viewerID {
			b.order = slices.Insert(b.order, 0, u.UserID)
		} else {
			b.order = append(b.order, u.UserID)
		}
	}
	b.entries[u.UserID] = u
}

// Get returns the entry for userID.
func (b *Board) Get(userID string) (Upsert, bool) {
	u, ok := b.entries[userID]
	return u, ok
}

func (b *Board) Len() int { return len(b.order) }

// Entries returns the entries in display order.
func (b *Board) Entries() []Upsert {
	out := make([]Upsert, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.entries[id])
	}
	return out
}
