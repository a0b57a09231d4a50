package trackingsync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/messages"
	"github.com/slastra/whatnot-shipstation-integration/internal/integrations/whatnot"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"github.com/stretchr/testify/require"
)

type attachCall struct {
	orderIDs []string
	code     string
	courier  string
}

type fakeMarketplace struct {
	calls []attachCall
	// errByCode returns an error for a given tracking number.
	errByCode map[string]error
}

func (f *fakeMarketplace) AttachTracking(ctx context.Context, a models.Account, orderIDs []string, code, courier string) error {
	f.calls = append(f.calls, attachCall{orderIDs: orderIDs, code: code, courier: courier})
	return f.errByCode[code]
}

type fakeFulfillment struct {
	shipments map[string][]models.Shipment
	listErr   map[string]error
	from, to  time.Time
}

func (f *fakeFulfillment) ListShippedWithTracking(ctx context.Context, storeID string, from, to time.Time) ([]models.Shipment, error) {
	f.from, f.to = from, to
	if err := f.listErr[storeID]; err != nil {
		return nil, err
	}
	return f.shipments[storeID], nil
}

type fakeStates struct {
	syncTimes map[string]time.Time
	states    map[string]models.TrackingState
	saves     int
	// snapshots of the processed-set at every checkpoint
	checkpoints [][]string
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		syncTimes: map[string]time.Time{},
		states:    map[string]models.TrackingState{},
	}
}

func (f *fakeStates) GetSyncTime(ctx context.Context, storeID string) (time.Time, error) {
	return f.syncTimes[storeID], nil
}

func (f *fakeStates) SaveSyncTime(ctx context.Context, storeID string, t time.Time) error {
	f.syncTimes[storeID] = t
	return nil
}

func (f *fakeStates) GetTrackingState(ctx context.Context, storeID string) (models.TrackingState, error) {
	return f.states[storeID], nil
}

func (f *fakeStates) SaveTrackingState(ctx context.Context, storeID string, st models.TrackingState) error {
	f.saves++
	f.checkpoints = append(f.checkpoints, append([]string(nil), st.ProcessedShipmentIDs...))
	f.states[storeID] = st
	return nil
}

func (f *fakeStates) ClearTrackingState(ctx context.Context, storeID string) error {
	delete(f.states, storeID)
	return nil
}

func shipment(id, code, carrier string, orderIDs ...string) models.Shipment {
	return models.Shipment{
		ID:             id,
		TrackingNumber: code,
		CarrierCode:    carrier,
		ShippedAt:      time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC),
		OrderIDs:       orderIDs,
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 8, 31, 9, 0, 0, 0, time.UTC)
}

func acct() models.Account {
	return models.Account{Name: "cardshop", ShipStationStoreID: "111"}
}

func TestRun_PushesTrackingAndAdvancesWatermark(t *testing.T) {
	mp := &fakeMarketplace{}
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{
		"111": {
			shipment("s1", "9400A", "stamps_com", "o1", "o2"),
			shipment("s2", "1ZB", "ups", "o3"),
		},
	}}
	states := newFakeStates()
	svc := New(mp, ff, states, 0)
	svc.now = fixedNow

	res, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, 2, res.Updated)
	require.Zero(t, res.Failed)

	require.Len(t, mp.calls, 2)
	require.Equal(t, attachCall{orderIDs: []string{"o1", "o2"}, code: "9400A", courier: "USPS"}, mp.calls[0])
	require.Equal(t, attachCall{orderIDs: []string{"o3"}, code: "1ZB", courier: "UPS"}, mp.calls[1])

	// Full batch landed: watermark at run start, checkpoint cleared.
	require.Equal(t, fixedNow(), states.syncTimes["111"])
	require.NotContains(t, states.states, "111")
	require.Equal(t, 2, states.saves) // one checkpoint per shipment
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	mp := &fakeMarketplace{}
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{
		"111": {
			shipment("s1", "t1", "usps", "o1"),
			shipment("s2", "t2", "usps", "o2"),
			shipment("s3", "t3", "usps", "o3"),
			shipment("s4", "t4", "usps", "o4"),
		},
	}}
	states := newFakeStates()
	states.states["111"] = models.TrackingState{
		LastProcessedShipmentID: "s2",
		ProcessedShipmentIDs:    []string{"s1", "s2"},
	}
	svc := New(mp, ff, states, 0)
	svc.now = fixedNow

	res, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)

	// Only the unprocessed tail is pushed.
	require.Equal(t, 2, res.Updated)
	require.Equal(t, 2, res.Accounts[0].Skipped)
	require.Len(t, mp.calls, 2)
	require.Equal(t, "t3", mp.calls[0].code)
	require.Equal(t, "t4", mp.calls[1].code)
}

func TestRun_EmptyBatchStillCompletes(t *testing.T) {
	mp := &fakeMarketplace{}
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{"111": nil}}
	states := newFakeStates()
	states.states["111"] = models.TrackingState{ProcessedShipmentIDs: []string{"s1"}}
	svc := New(mp, ff, states, 0)
	svc.now = fixedNow

	var events []messages.SyncProgress
	res, err := svc.Run(context.Background(), []models.Account{acct()},
		func(ev messages.SyncProgress) { events = append(events, ev) })
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Zero(t, res.Updated)
	require.Empty(t, mp.calls)

	// Trivially complete: watermark advances, stale checkpoint dropped, and
	// the run still ends with a complete event.
	require.Equal(t, fixedNow(), states.syncTimes["111"])
	require.NotContains(t, states.states, "111")
	require.Equal(t, messages.PhaseComplete, events[len(events)-1].Phase)
}

func TestRun_AlreadyTrackedIsNotAFailure(t *testing.T) {
	mp := &fakeMarketplace{errByCode: map[string]error{
		"t1": errors.Wrap(whatnot.ErrAlreadyTracked, "order o1 already has tracking"),
	}}
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{
		"111": {shipment("s1", "t1", "usps", "o1"), shipment("s2", "t2", "usps", "o2")},
	}}
	states := newFakeStates()
	svc := New(mp, ff, states, 0)
	svc.now = fixedNow

	res, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.AlreadyTracked)
	require.Zero(t, res.Failed)

	// Already-tracked counts as processed: the batch completed.
	require.Equal(t, fixedNow(), states.syncTimes["111"])
	require.NotContains(t, states.states, "111")
}

func TestRun_FailedShipmentIsCheckpointedToo(t *testing.T) {
	mp := &fakeMarketplace{errByCode: map[string]error{"t2": errors.New("mutation rejected")}}
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{
		"111": {shipment("s1", "t1", "usps", "o1"), shipment("s2", "t2", "usps", "o2")},
	}}
	states := newFakeStates()
	svc := New(mp, ff, states, 0)
	svc.now = fixedNow

	res, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)

	require.True(t, res.Success) // shipment-level failure, account still succeeded
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, "s2", res.Accounts[0].Failed[0].ShipmentID)

	// Every outcome is checkpointed, the error included: the failed shipment
	// is in the persisted processed-set before the batch ends.
	require.Equal(t, [][]string{{"s1"}, {"s1", "s2"}}, states.checkpoints)

	// The batch was exhausted, so the watermark advances and the checkpoint
	// is dropped; the failure lives on in the result only.
	require.Equal(t, fixedNow(), states.syncTimes["111"])
	require.NotContains(t, states.states, "111")
}

func TestRun_FirstRunUsesLookbackWindow(t *testing.T) {
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{"111": nil}}
	svc := New(&fakeMarketplace{}, ff, newFakeStates(), 7*24*time.Hour)
	svc.now = fixedNow

	_, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)

	require.Equal(t, fixedNow().Add(-7*24*time.Hour), ff.from)
	require.Equal(t, fixedNow(), ff.to)
}

func TestRun_SavedWatermarkBoundsWindow(t *testing.T) {
	last := time.Date(2025, 8, 29, 6, 0, 0, 0, time.UTC)
	ff := &fakeFulfillment{shipments: map[string][]models.Shipment{"111": nil}}
	states := newFakeStates()
	states.syncTimes["111"] = last
	svc := New(&fakeMarketplace{}, ff, states, 0)
	svc.now = fixedNow

	_, err := svc.Run(context.Background(), []models.Account{acct()}, func(messages.SyncProgress) {})
	require.NoError(t, err)
	require.Equal(t, last, ff.from)
}

func TestRun_AccountFailureDoesNotAbortRun(t *testing.T) {
	ff := &fakeFulfillment{
		shipments: map[string][]models.Shipment{"222": {shipment("s1", "t1", "usps", "o1")}},
		listErr:   map[string]error{"111": errors.New("shipstation down")},
	}
	svc := New(&fakeMarketplace{}, ff, newFakeStates(), 0)
	svc.now = fixedNow

	var events []messages.SyncProgress
	res, err := svc.Run(context.Background(), []models.Account{
		{Name: "bad", ShipStationStoreID: "111"},
		{Name: "good", ShipStationStoreID: "222"},
	}, func(ev messages.SyncProgress) { events = append(events, ev) })
	require.NoError(t, err)

	require.False(t, res.Success)
	require.Equal(t, "shipstation down", res.Accounts[0].Error)
	require.Equal(t, 1, res.Accounts[1].Updated)

	var sawError bool
	for _, ev := range events {
		if ev.Phase == messages.PhaseError && ev.Account == "bad" {
			sawError = true
		}
	}
	require.True(t, sawError)
}
