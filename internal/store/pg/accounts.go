package pg

import (
	"context"
	"database/sql"
	"errors"

	"locshare.org/internal/accounts"
	"locshare.org/internal/store"
)

func (s *Store) Create(ctx context.Context, a *accounts.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (id, name, email, password_hash, created_at)
		values ($1, $2, $3, $4, $5)
	`, a.ID, a.Name, a.Email, a.PasswordHash, a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return accounts.ErrDuplicateEmail
		}
		return store.Unavailable("insert account", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*accounts.Account, error) {
	return s.findOne(ctx, "find account", `
		select id, name, email, password_hash, created_at
		from accounts where id = $1
	`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return s.findOne(ctx, "find account by email", `
		select id, name, email, password_hash, created_at
		from accounts where email = $1
		order by created_at asc
		limit 1
	`, email)
}

func (s *Store) findOne(ctx context.Context, op, query string, arg string) (*accounts.Account, error) {
	var a accounts.Account
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	return &a, nil
}

func (s *Store) FindMany(ctx context.Context, ids []string) (map[string]*accounts.Account, error) {
	out := make(map[string]*accounts.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, email, password_hash, created_at
		from accounts where id = any($1)
	`, ids)
	if err != nil {
		return nil, store.Unavailable("find accounts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
			return nil, store.Unavailable("scan account", err)
		}
		out[a.ID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("find accounts", err)
	}
	return out, nil
}
