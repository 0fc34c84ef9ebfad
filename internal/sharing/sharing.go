// Package sharing maintains the directed owner to viewer sharing edges.
package sharing

import (
	"context"
	"errors"
	"strings"
	"time"

	"locshare.org/internal/obs"
)

var (
	ErrUnknownUser = errors.New("sharing: no account registered with that email")
	ErrSelfShare   = errors.New("sharing: cannot share with yourself")
)

// Edge grants ViewerID permission to observe OwnerID's current location.
type Edge struct {
	OwnerID   string    `json:"owner_id"`
	ViewerID  string    `json:"viewer_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists edges. Insert and Delete are idempotent. Listings are
// duplicate-free and ordered by edge creation.
type Store interface {
	Insert(ctx context.Context, ownerID, viewerID string) error
	Delete(ctx context.Context, ownerID, viewerID string) error
	Viewers(ctx context.Context, ownerID string) ([]string, error)
	Sharers(ctx context.Context, viewerID string) ([]string, error)
}

// Resolver maps an email to an account id.
type Resolver interface {
	ResolveByEmail(ctx context.Context, email string) (string, bool, error)
}

// Graph exposes the sharing operations.
type Graph struct {
	store    Store
	resolver Resolver
}

func NewGraph(store Store, resolver Resolver) *Graph {
	return &Graph{store: store, resolver: resolver}
}

// Share grants the account registered under viewerEmail access to ownerID's
// location and returns the viewer id.
func (g *Graph) Share(ctx context.Context, ownerID, viewerEmail string) (string, error) {
	viewerID, ok, err := g.resolver.ResolveByEmail(ctx, strings.TrimSpace(viewerEmail))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownUser
	}
	if viewerID == ownerID {
		return "", ErrSelfShare
	}
	if err := g.store.Insert(ctx, ownerID, viewerID); err != nil {
		return "", err
	}
	obs.SharingChanges.WithLabelValues("share").Inc()
	return viewerID, nil
}

// Revoke removes the edge if present.
func (g *Graph) Revoke(ctx context.Context, ownerID, viewerID string) error {
	if err := g.store.Delete(ctx, ownerID, viewerID); err != nil {
		return err
	}
	obs.SharingChanges.WithLabelValues("revoke").Inc()
	return nil
}

// ListViewers returns everyone ownerID shares with.
func (g *Graph) ListViewers(ctx context.Context, ownerID string) ([]string, error) {
	return g.store.Viewers(ctx, ownerID)
}

// ListSharers returns everyone sharing with viewerID.
func (g *Graph) ListSharers(ctx context.Context, viewerID string) ([]string, error) {
	return g.store.Sharers(ctx, viewerID)
}
