package pgstate

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS order_cursors (
  account_name TEXT PRIMARY KEY,
  cursor TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS sync_times (
  store_id TEXT PRIMARY KEY,
  last_sync_time TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_states (
  store_id TEXT PRIMARY KEY,
  last_processed_shipment_id TEXT NOT NULL DEFAULT '',
  processed_shipment_ids JSONB NOT NULL DEFAULT '[]',
  last_sync_time TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
