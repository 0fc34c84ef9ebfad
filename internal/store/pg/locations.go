package pg

import (
	"context"
	"database/sql"
	"errors"
	"iter"

	"locshare.org/internal/ids"
	"locshare.org/internal/location"
	"locshare.org/internal/store"
)

func (s *Store) AppendHistory(ctx context.Context, smp location.Sample) (location.Sample, error) {
	smp.Key = ids.New()
	_, err := s.db.ExecContext(ctx, `
		insert into location_history (key, user_id, latitude, longitude, accuracy, captured_at, date_time, user_name)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, smp.Key, smp.UserID, smp.Latitude, smp.Longitude, nullFloat(smp.Accuracy), smp.CapturedAt, smp.DateTime, smp.UserName)
	if err != nil {
		return location.Sample{}, store.Unavailable("append history", err)
	}
	return smp, nil
}

// OverwriteCurrent upserts the current slot. With rejectStale the update is
// skipped when the stored captured_at is strictly newer.
func (s *Store) OverwriteCurrent(ctx context.Context, smp location.Sample, rejectStale bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into location_current (user_id, latitude, longitude, accuracy, captured_at, date_time, user_name, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, now())
		on conflict (user_id) do update set
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy = excluded.accuracy,
			captured_at = excluded.captured_at,
			date_time = excluded.date_time,
			user_name = excluded.user_name,
			updated_at = excluded.updated_at
		where not $8 or location_current.captured_at <= excluded.captured_at
	`, smp.UserID, smp.Latitude, smp.Longitude, nullFloat(smp.Accuracy), smp.CapturedAt, smp.DateTime, smp.UserName, rejectStale)
	if err != nil {
		return false, store.Unavailable("overwrite current", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Unavailable("overwrite current", err)
	}
	return n > 0, nil
}

func (s *Store) Current(ctx context.Context, userID string) (*location.Sample, error) {
	var (
		smp location.Sample
		acc sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, latitude, longitude, accuracy, captured_at, date_time, user_name
		from location_current where user_id = $1
	`, userID).Scan(&smp.UserID, &smp.Latitude, &smp.Longitude, &acc, &smp.CapturedAt, &smp.DateTime, &smp.UserName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Unavailable("read current", err)
	}
	smp.Accuracy = floatPtr(acc)
	return &smp, nil
}

// History runs a fresh query each time the sequence is ranged over and
// streams rows as they are read.
func (s *Store) History(ctx context.Context, userID string) iter.Seq2[location.Sample, error] {
	return func(yield func(location.Sample, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			select key, user_id, latitude, longitude, accuracy, captured_at, date_time, user_name
			from location_history
			where user_id = $1
			order by captured_at asc, seq asc
		`, userID)
		if err != nil {
			yield(location.Sample{}, store.Unavailable("read history", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var (
				smp location.Sample
				acc sql.NullFloat64
			)
			if err := rows.Scan(&smp.Key, &smp.UserID, &smp.Latitude, &smp.Longitude, &acc, &smp.CapturedAt, &smp.DateTime, &smp.UserName); err != nil {
				yield(location.Sample{}, store.Unavailable("scan history", err))
				return
			}
			smp.Accuracy = floatPtr(acc)
			if !yield(smp, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(location.Sample{}, store.Unavailable("read history", err))
		}
	}
}
