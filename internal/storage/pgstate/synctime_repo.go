package pgstate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetSyncTime returns the last successful tracking sync for a store. The zero
// time means the store has never completed a batch.
func (s *Storage) GetSyncTime(ctx context.Context, storeID string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx,
		`SELECT last_sync_time FROM sync_times WHERE store_id = $1`,
		storeID,
	).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "select sync time")
	}
	return t.UTC(), nil
}

// SaveSyncTime advances the watermark. Called only after a tracking batch
// fully completes with no unprocessed remainder.
func (s *Storage) SaveSyncTime(ctx context.Context, storeID string, t time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO sync_times (store_id, last_sync_time, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (store_id)
DO UPDATE SET last_sync_time = EXCLUDED.last_sync_time, updated_at = now()
`, storeID, t.UTC())
	return errors.Wrap(err, "upsert sync time")
}
