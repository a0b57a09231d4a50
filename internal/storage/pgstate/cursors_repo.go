package pgstate

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetCursor returns the persisted pagination cursor for an account, or ""
// when the account has never completed a page fetch.
func (s *Storage) GetCursor(ctx context.Context, accountName string) (string, error) {
	var cursor string
	err := s.db.QueryRow(ctx,
		`SELECT cursor FROM order_cursors WHERE account_name = $1`,
		accountName,
	).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "select cursor")
	}
	return cursor, nil
}

// SaveCursor advances the cursor. Cursors only move forward: the caller
// persists after each successfully fetched page and never rolls back.
func (s *Storage) SaveCursor(ctx context.Context, accountName, cursor string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO order_cursors (account_name, cursor, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (account_name)
DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()
`, accountName, cursor)
	return errors.Wrap(err, "upsert cursor")
}
