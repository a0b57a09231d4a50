package pgstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

// GetTrackingState loads the in-progress batch record for a store. A store
// with no record gets an empty state.
func (s *Storage) GetTrackingState(ctx context.Context, storeID string) (models.TrackingState, error) {
	var (
		lastID   string
		idsJSON  []byte
		syncTime *time.Time
	)
	err := s.db.QueryRow(ctx, `
SELECT last_processed_shipment_id, processed_shipment_ids, last_sync_time
FROM tracking_states
WHERE store_id = $1
`, storeID).Scan(&lastID, &idsJSON, &syncTime)
	if err == pgx.ErrNoRows {
		return models.TrackingState{}, nil
	}
	if err != nil {
		return models.TrackingState{}, errors.Wrap(err, "select tracking state")
	}

	st := models.TrackingState{LastProcessedShipmentID: lastID}
	if err := json.Unmarshal(idsJSON, &st.ProcessedShipmentIDs); err != nil {
		return models.TrackingState{}, errors.Wrap(err, "unmarshal processed ids")
	}
	if syncTime != nil {
		st.LastSyncTime = syncTime.UTC()
	}
	return st, nil
}

// SaveTrackingState persists the checkpoint. Called after every shipment
// attempt so a crashed batch resumes without re-pushing.
func (s *Storage) SaveTrackingState(ctx context.Context, storeID string, st models.TrackingState) error {
	ids := st.ProcessedShipmentIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "marshal processed ids")
	}

	var syncTime *time.Time
	if !st.LastSyncTime.IsZero() {
		t := st.LastSyncTime.UTC()
		syncTime = &t
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO tracking_states (store_id, last_processed_shipment_id, processed_shipment_ids, last_sync_time, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (store_id)
DO UPDATE SET
  last_processed_shipment_id = EXCLUDED.last_processed_shipment_id,
  processed_shipment_ids = EXCLUDED.processed_shipment_ids,
  last_sync_time = EXCLUDED.last_sync_time,
  updated_at = now()
`, storeID, st.LastProcessedShipmentID, idsJSON, syncTime)
	return errors.Wrap(err, "upsert tracking state")
}

// ClearTrackingState drops the processed-set once a batch fully completes.
func (s *Storage) ClearTrackingState(ctx context.Context, storeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tracking_states WHERE store_id = $1`, storeID)
	return errors.Wrap(err, "delete tracking state")
}
