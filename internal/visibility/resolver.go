// Package visibility computes who a viewer may see and merges their live
// locations into one subscription.
package visibility

import (
	"context"
	"errors"
	"slices"

	"locshare.org/internal/accounts"
	"locshare.org/internal/location"
	"locshare.org/internal/obs"
)

// ErrPermissionDenied is returned when a viewer asks for a user outside its visible set.
var ErrPermissionDenied = errors.New("visibility: permission denied")

// SharerLister lists the owners who shared with a viewer.
type SharerLister interface {
	ListSharers(ctx context.Context, viewerID string) ([]string, error)
}

// NameResolver maps account ids to display names.
type NameResolver interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// CurrentSubscriber opens live current-location subscriptions.
type CurrentSubscriber interface {
	SubscribeCurrent(ctx context.Context, userID string, fn func(*location.Sample)) (*location.Subscription, error)
}

// Resolver answers visibility queries.
type Resolver struct {
	graph  SharerLister
	names  NameResolver
	ledger CurrentSubscriber
}

func NewResolver(graph SharerLister, names NameResolver, ledger CurrentSubscriber) *Resolver {
	return &Resolver{graph: graph, names: names, ledger: ledger}
}

// VisibleSetFor returns the viewer followed by every owner sharing with it,
// without duplicates.
func (r *Resolver) VisibleSetFor(ctx context.Context, viewerID string) ([]string, error) {
	sharers, err := r.graph.ListSharers(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sharers)+1)
	out = append(out, viewerID)
	for _, id := range sharers {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Authorize reports ErrPermissionDenied unless targetID is in viewerID's visible set.
func (r *Resolver) Authorize(ctx context.Context, viewerID, targetID string) error {
	if viewerID == "" {
		return ErrPermissionDenied
	}
	if viewerID == targetID {
		return nil
	}
	sharers, err := r.graph.ListSharers(ctx, viewerID)
	if err != nil {
		return err
	}
	if !slices.Contains(sharers, targetID) {
		return ErrPermissionDenied
	}
	return nil
}

// Names resolves display names for ids. A lookup failure degrades to the
// default name rather than failing the caller.
func (r *Resolver) Names(ctx context.Context, ids []string) map[string]string {
	names, err := r.names.DisplayNames(ctx, ids)
	if err != nil {
		obs.Logger().Warn("display_names_failed", "error", err)
		names = nil
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if n, ok := names[id]; ok && n != "" {
			out[id] = n
		} else {
			out[id] = accounts.DefaultDisplayName
		}
	}
	return out
}

// SubscribeVisibleLocations resolves the visible set once and opens one
// current-location subscription per member. Every update reaches fn as an
// Upsert keyed by user id; fn is never called concurrently. A member whose
// subscription cannot be opened is reported on Errors and does not affect
// the others.
func (r *Resolver) SubscribeVisibleLocations(ctx context.Context, viewerID string, fn func(Upsert)) (*Subscription, error) {
	sub := &Subscription{viewerID: viewerID}
	sub.setState(Resolving)

	members, err := r.VisibleSetFor(ctx, viewerID)
	if err != nil {
		sub.setState(Uninitialized)
		return nil, err
	}
	names := r.Names(ctx, members)

	sub.members = members
	sub.errs = make(chan MemberError, len(members))
	sub.done = make(chan struct{})

	for _, id := range members {
		u := Upsert{UserID: id, UserName: names[id], Self: id == viewerID}
		ls, err := r.ledger.SubscribeCurrent(ctx, id, func(s *location.Sample) {
			up := u
			up.Sample = s
			sub.deliver(fn, up)
		})
		if err != nil {
			sub.errs <- MemberError{UserID: id, Err: err}
			continue
		}
		sub.live = append(sub.live, ls)
	}
	sub.setState(Active)

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}
