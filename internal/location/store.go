package location

import (
	"context"
	"iter"
)

// Store persists history and current-slot values.
type Store interface {
	// AppendHistory stores s under a new history key and returns the stored sample.
	AppendHistory(ctx context.Context, s Sample) (Sample, error)
	// OverwriteCurrent replaces the user's current slot. With rejectStale it
	// leaves a strictly newer stored value in place and reports false.
	OverwriteCurrent(ctx context.Context, s Sample, rejectStale bool) (bool, error)
	// Current returns nil, nil when the user has never recorded.
	Current(ctx context.Context, userID string) (*Sample, error)
	// History yields samples by capture time ascending, ties in append order.
	History(ctx context.Context, userID string) iter.Seq2[Sample, error]
}
