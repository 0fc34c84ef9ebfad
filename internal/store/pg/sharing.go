package pg

import (
	"context"

	"locshare.org/internal/store"
)

func (s *Store) Insert(ctx context.Context, ownerID, viewerID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sharing_edges (owner_id, viewer_id)
		values ($1, $2)
		on conflict do nothing
	`, ownerID, viewerID)
	return store.Unavailable("insert edge", err)
}

func (s *Store) Delete(ctx context.Context, ownerID, viewerID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from sharing_edges where owner_id = $1 and viewer_id = $2
	`, ownerID, viewerID)
	return store.Unavailable("delete edge", err)
}

func (s *Store) Viewers(ctx context.Context, ownerID string) ([]string, error) {
	return s.edgeColumn(ctx, "list viewers", `
		select viewer_id from sharing_edges where owner_id = $1 order by seq asc
	`, ownerID)
}

func (s *Store) Sharers(ctx context.Context, viewerID string) ([]string, error) {
	return s.edgeColumn(ctx, "list sharers", `
		select owner_id from sharing_edges where viewer_id = $1 order by seq asc
	`, viewerID)
}

func (s *Store) edgeColumn(ctx context.Context, op, query, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.Unavailable(op, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(op, err)
	}
	return out, nil
}
