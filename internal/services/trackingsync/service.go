package trackingsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/messages"
	"github.com/slastra/whatnot-shipstation-integration/internal/integrations/whatnot"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
)

type MarketplaceClient interface {
	AttachTracking(ctx context.Context, account models.Account, orderIDs []string, trackingCode, courier string) error
}

type FulfillmentClient interface {
	ListShippedWithTracking(ctx context.Context, storeID string, from, to time.Time) ([]models.Shipment, error)
}

// StateStore is the per-store resume state: the sync-time watermark plus the
// in-progress batch checkpoint.
type StateStore interface {
	GetSyncTime(ctx context.Context, storeID string) (time.Time, error)
	SaveSyncTime(ctx context.Context, storeID string, t time.Time) error
	GetTrackingState(ctx context.Context, storeID string) (models.TrackingState, error)
	SaveTrackingState(ctx context.Context, storeID string, st models.TrackingState) error
	ClearTrackingState(ctx context.Context, storeID string) error
}

type EmitFunc func(ev messages.SyncProgress)

type ShipmentError struct {
	ShipmentID     string `json:"shipment_id"`
	TrackingNumber string `json:"tracking_number"`
	Error          string `json:"error"`
}

type AccountResult struct {
	Account        string          `json:"account"`
	Shipments      int             `json:"shipments"`
	Skipped        int             `json:"skipped"`
	Updated        int             `json:"updated"`
	AlreadyTracked int             `json:"already_tracked"`
	Failed         []ShipmentError `json:"failed,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type Result struct {
	Success        bool            `json:"success"`
	Accounts       []AccountResult `json:"accounts"`
	Updated        int             `json:"updated"`
	AlreadyTracked int             `json:"already_tracked"`
	Failed         int             `json:"failed"`
}

// Service drives the tracking pipeline: list shipped packages since the last
// watermark and push their tracking codes back to the marketplace. Resume
// state is checkpointed after every shipment so a crashed batch never
// re-pushes what it already delivered.
type Service struct {
	marketplace MarketplaceClient
	fulfillment FulfillmentClient
	states      StateStore
	lookback    time.Duration

	now func() time.Time
}

const defaultLookback = 30 * 24 * time.Hour

func New(marketplace MarketplaceClient, fulfillment FulfillmentClient, states StateStore, lookback time.Duration) *Service {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Service{
		marketplace: marketplace,
		fulfillment: fulfillment,
		states:      states,
		lookback:    lookback,
		now:         time.Now,
	}
}

// Run processes accounts strictly sequentially, same contract as the order
// pipeline: an account-level failure is recorded and the run moves on.
func (s *Service) Run(ctx context.Context, accts []models.Account, emit EmitFunc) (*Result, error) {
	res := &Result{Success: true}

	for _, a := range accts {
		ar, err := s.runAccount(ctx, a, emit)
		if err != nil {
			slog.Error("tracking sync account failed", "account", a.Name, "error", err.Error())
			res.Success = false
			ar.Error = err.Error()
			emit(messages.SyncProgress{
				Phase:   messages.PhaseError,
				Account: a.Name,
				Message: err.Error(),
			})
		}
		res.Accounts = append(res.Accounts, ar)
		res.Updated += ar.Updated
		res.AlreadyTracked += ar.AlreadyTracked
		res.Failed += len(ar.Failed)
	}

	// Terminal event: processed always equals total, also for an empty run,
	// so percentage displays land on 100.
	attempted := res.Updated + res.AlreadyTracked + res.Failed
	emit(messages.SyncProgress{
		Phase:     messages.PhaseComplete,
		Processed: attempted,
		Total:     attempted,
		Updated:   res.Updated,
		Failed:    res.Failed,
		Message:   fmt.Sprintf("tracking update complete: %d updated, %d already tracked, %d failed", res.Updated, res.AlreadyTracked, res.Failed),
	})
	return res, nil
}

func (s *Service) runAccount(ctx context.Context, a models.Account, emit EmitFunc) (AccountResult, error) {
	ar := AccountResult{Account: a.Name}
	storeID := a.ShipStationStoreID
	runStart := s.now().UTC()

	since, err := s.states.GetSyncTime(ctx, storeID)
	if err != nil {
		return ar, err
	}
	if since.IsZero() {
		since = runStart.Add(-s.lookback)
	}
	state, err := s.states.GetTrackingState(ctx, storeID)
	if err != nil {
		return ar, err
	}

	shipments, err := s.fulfillment.ListShippedWithTracking(ctx, storeID, since, runStart)
	if err != nil {
		return ar, err
	}
	ar.Shipments = len(shipments)

	// A resumed run skips shipments the interrupted batch already pushed.
	pending := make([]models.Shipment, 0, len(shipments))
	for _, sh := range shipments {
		if state.Processed(sh.ID) {
			ar.Skipped++
			continue
		}
		pending = append(pending, sh)
	}
	emit(messages.SyncProgress{
		Phase:   messages.PhaseFiltering,
		Account: a.Name,
		Total:   len(pending),
		Message: fmt.Sprintf("%d shipments to push (%d already processed)", len(pending), ar.Skipped),
	})

	if len(pending) == 0 {
		// Still a completed batch: advance the watermark so the next run
		// narrows its window, and drop any leftover checkpoint.
		if err := s.states.SaveSyncTime(ctx, storeID, runStart); err != nil {
			return ar, err
		}
		if err := s.states.ClearTrackingState(ctx, storeID); err != nil {
			return ar, err
		}
		emit(messages.SyncProgress{
			Phase:   messages.PhaseUpdating,
			Account: a.Name,
			Message: "no new shipments",
		})
		return ar, nil
	}

	state.LastSyncTime = runStart
	for i, sh := range pending {
		err := s.marketplace.AttachTracking(ctx, a, sh.OrderIDs, sh.TrackingNumber, courierFor(sh.CarrierCode))
		switch {
		case err == nil:
			ar.Updated++
		case errors.Is(err, whatnot.ErrAlreadyTracked):
			// The marketplace already has this code. Not a failure, but
			// counted separately so operators can see the overlap.
			ar.AlreadyTracked++
		default:
			ar.Failed = append(ar.Failed, ShipmentError{
				ShipmentID:     sh.ID,
				TrackingNumber: sh.TrackingNumber,
				Error:          err.Error(),
			})
		}

		// Checkpoint every outcome, errors included. A resumed run must not
		// re-push a shipment the marketplace already rejected; failures are
		// reported in the result, not retried implicitly.
		state.LastProcessedShipmentID = sh.ID
		state.ProcessedShipmentIDs = append(state.ProcessedShipmentIDs, sh.ID)
		if err := s.states.SaveTrackingState(ctx, storeID, state); err != nil {
			return ar, err
		}

		emit(messages.SyncProgress{
			Phase:     messages.PhaseUpdating,
			Account:   a.Name,
			Processed: i + 1,
			Total:     len(pending),
			Updated:   ar.Updated,
			Failed:    len(ar.Failed),
		})
	}

	// Batch exhausted: advance the watermark and drop the checkpoint. An
	// interrupted run never reaches this point, so its next attempt resumes
	// from the per-shipment state above.
	if err := s.states.SaveSyncTime(ctx, storeID, runStart); err != nil {
		return ar, err
	}
	if err := s.states.ClearTrackingState(ctx, storeID); err != nil {
		return ar, err
	}
	return ar, nil
}
