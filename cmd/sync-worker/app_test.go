package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/slastra/whatnot-shipstation-integration/config"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/ordersync"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/syncer"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/trackingsync"
	"github.com/stretchr/testify/require"
)

type fakeStateStorage struct{}

func (fakeStateStorage) GetCursor(ctx context.Context, accountName string) (string, error) {
	return "", nil
}
func (fakeStateStorage) SaveCursor(ctx context.Context, accountName, cursor string) error {
	return nil
}
func (fakeStateStorage) GetSyncTime(ctx context.Context, storeID string) (time.Time, error) {
	return time.Time{}, nil
}
func (fakeStateStorage) SaveSyncTime(ctx context.Context, storeID string, t time.Time) error {
	return nil
}
func (fakeStateStorage) GetTrackingState(ctx context.Context, storeID string) (models.TrackingState, error) {
	return models.TrackingState{}, nil
}
func (fakeStateStorage) SaveTrackingState(ctx context.Context, storeID string, st models.TrackingState) error {
	return nil
}
func (fakeStateStorage) ClearTrackingState(ctx context.Context, storeID string) error {
	return nil
}

func testFactories(closed *bool) workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (stateStorage, func(), error) {
			return fakeStateStorage{}, func() { *closed = true }, nil
		},
	}
}

func TestRunSyncWorker_ContextCanceled(t *testing.T) {
	closed := false
	cfg := &config.Config{
		Sync: config.SyncConfig{HTTPAddr: "127.0.0.1:0"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunSyncWorker(ctx, cfg, testFactories(&closed))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, closed)
}

func TestRunSyncWorker_BadMinOrderDate(t *testing.T) {
	closed := false
	cfg := &config.Config{
		Whatnot: config.WhatnotConfig{MinOrderDate: "30-08-2025"},
	}

	err := RunSyncWorker(context.Background(), cfg, testFactories(&closed))
	require.ErrorContains(t, err, "min_order_date")
	require.False(t, closed) // fails before the storage is opened
}

type blockingOrders struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingOrders) Run(ctx context.Context, accts []models.Account, emit ordersync.EmitFunc) (*ordersync.Result, error) {
	close(b.started)
	<-b.release
	return &ordersync.Result{Success: true, Created: 2}, nil
}

type noopTracking struct{}

func (noopTracking) Run(ctx context.Context, accts []models.Account, emit trackingsync.EmitFunc) (*trackingsync.Result, error) {
	return &trackingsync.Result{Success: true}, nil
}

type staticAccounts []models.Account

func (s staticAccounts) Load() ([]models.Account, error) { return s, nil }

func TestWorkerHTTPServer_RunEndpoints(t *testing.T) {
	orders := &blockingOrders{started: make(chan struct{}), release: make(chan struct{})}
	sy := syncer.New(orders, noopTracking{}, staticAccounts{{Name: "cardshop", Enabled: true}})

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			syncer:   sy,
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Kick off an order run; it blocks inside the fake runner.
	type postResult struct {
		resp *http.Response
		err  error
	}
	orderDone := make(chan postResult, 1)
	go func() {
		r, err := http.Post(base+"/run/orders", "application/json",
			bytes.NewBufferString(`{"accounts":["cardshop"]}`))
		orderDone <- postResult{resp: r, err: err}
	}()
	<-orders.started

	// A second run of either pipeline is rejected while the first is active.
	resp, err = http.Post(base+"/run/tracking", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var e map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.NotEmpty(t, e["error"])

	// /stats reports the active run.
	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats struct {
		Run *syncer.RunState `json:"run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.NotNil(t, stats.Run)
	require.Equal(t, syncer.PipelineOrders, stats.Run.Pipeline)

	close(orders.release)
	pr := <-orderDone
	require.NoError(t, pr.err)
	defer pr.resp.Body.Close()
	require.Equal(t, http.StatusOK, pr.resp.StatusCode)
	var res ordersync.Result
	require.NoError(t, json.NewDecoder(pr.resp.Body).Decode(&res))
	require.True(t, res.Success)
	require.Equal(t, 2, res.Created)

	// After release the next run goes through.
	resp, err = http.Post(base+"/run/tracking", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkerHTTPServer_BadRunBody(t *testing.T) {
	sy := syncer.New(&blockingOrders{started: make(chan struct{}), release: make(chan struct{})},
		noopTracking{}, staticAccounts{})

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			syncer:   sy,
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Post(base+"/run/orders", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDefaultWorkerFactories_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newDeduper(cfg))
	require.NotNil(t, f.newItemsCache(cfg))
}
