package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/accounts"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/messages"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/ordersync"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/trackingsync"
)

// ErrSyncInProgress is returned when a run is requested while another run,
// either pipeline, is still active.
var ErrSyncInProgress = errors.New("a sync run is already in progress")

const (
	PipelineOrders   = "orders"
	PipelineTracking = "tracking"
)

// RunState describes the currently active run. It is a value handed out by
// snapshot, never shared mutable state.
type RunState struct {
	Pipeline  string    `json:"pipeline"`
	StartedAt time.Time `json:"started_at"`
}

type OrderRunner interface {
	Run(ctx context.Context, accts []models.Account, emit ordersync.EmitFunc) (*ordersync.Result, error)
}

type TrackingRunner interface {
	Run(ctx context.Context, accts []models.Account, emit trackingsync.EmitFunc) (*trackingsync.Result, error)
}

type AccountSource interface {
	Load() ([]models.Account, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type LogDeduper interface {
	First(ctx context.Context, key string, window time.Duration) (bool, error)
}

type Stats struct {
	RunsStarted     int64 `json:"runs_started"`
	RunsRejected    int64 `json:"runs_rejected"`
	EventsPublished int64 `json:"events_published"`
	PublishErrors   int64 `json:"publish_errors"`
	EventsDeduped   int64 `json:"events_deduped"`
}

// Syncer is the process-wide entry point for both pipelines. It enforces a
// single run at a time and fans every progress event out to the kafka stream
// and the caller's optional callback.
type Syncer struct {
	orders   OrderRunner
	tracking TrackingRunner
	accts    AccountSource

	producer Publisher
	topic    string

	deduper     LogDeduper
	dedupWindow time.Duration

	mu      sync.Mutex
	running bool
	state   RunState

	runsStarted     atomic.Int64
	runsRejected    atomic.Int64
	eventsPublished atomic.Int64
	publishErrors   atomic.Int64
	eventsDeduped   atomic.Int64
}

func New(orders OrderRunner, tracking TrackingRunner, accts AccountSource) *Syncer {
	return &Syncer{orders: orders, tracking: tracking, accts: accts}
}

// WithProducer publishes every progress event to the given topic. Publishing
// is best effort; a broker outage never fails a run.
func (s *Syncer) WithProducer(p Publisher, topic string) *Syncer {
	s.producer = p
	s.topic = topic
	return s
}

// WithLogDeduper suppresses repeated log-only events inside the window.
func (s *Syncer) WithLogDeduper(d LogDeduper, window time.Duration) *Syncer {
	s.deduper = d
	s.dedupWindow = window
	return s
}

// RunOrderSync runs the order pipeline for the named accounts (empty means
// all enabled accounts). Returns ErrSyncInProgress if any run is active.
func (s *Syncer) RunOrderSync(ctx context.Context, names []string, onProgress func(messages.SyncProgress)) (*ordersync.Result, error) {
	release, err := s.begin(PipelineOrders)
	if err != nil {
		return nil, err
	}
	defer release()

	selected, err := s.selectAccounts(names)
	if err != nil {
		return nil, err
	}
	slog.Info("order sync started", "accounts", len(selected))
	return s.orders.Run(ctx, selected, s.emitter(ctx, PipelineOrders, onProgress))
}

// RunTrackingUpdate runs the tracking pipeline for the named accounts.
func (s *Syncer) RunTrackingUpdate(ctx context.Context, names []string, onProgress func(messages.SyncProgress)) (*trackingsync.Result, error) {
	release, err := s.begin(PipelineTracking)
	if err != nil {
		return nil, err
	}
	defer release()

	selected, err := s.selectAccounts(names)
	if err != nil {
		return nil, err
	}
	slog.Info("tracking update started", "accounts", len(selected))
	return s.tracking.Run(ctx, selected, s.emitter(ctx, PipelineTracking, onProgress))
}

// State reports the active run, if any.
func (s *Syncer) State() (RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.running
}

func (s *Syncer) Stats() Stats {
	return Stats{
		RunsStarted:     s.runsStarted.Load(),
		RunsRejected:    s.runsRejected.Load(),
		EventsPublished: s.eventsPublished.Load(),
		PublishErrors:   s.publishErrors.Load(),
		EventsDeduped:   s.eventsDeduped.Load(),
	}
}

func (s *Syncer) begin(pipeline string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.runsRejected.Add(1)
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.state = RunState{Pipeline: pipeline, StartedAt: time.Now().UTC()}
	s.runsStarted.Add(1)

	return func() {
		s.mu.Lock()
		s.running = false
		s.state = RunState{}
		s.mu.Unlock()
	}, nil
}

func (s *Syncer) selectAccounts(names []string) ([]models.Account, error) {
	all, err := s.accts.Load()
	if err != nil {
		return nil, err
	}
	return accounts.Select(all, names)
}

// emitter stamps pipeline and timestamp onto every event, dedups log-only
// ones, publishes to kafka, and finally invokes the caller's callback.
func (s *Syncer) emitter(ctx context.Context, pipeline string, onProgress func(messages.SyncProgress)) func(messages.SyncProgress) {
	return func(ev messages.SyncProgress) {
		ev.Pipeline = pipeline
		ev.At = time.Now().UTC()

		if ev.LogOnly && s.deduper != nil && s.dedupWindow > 0 {
			key := fmt.Sprintf("log:%s:%s:%s", pipeline, ev.Phase, ev.Message)
			first, err := s.deduper.First(ctx, key, s.dedupWindow)
			if err == nil && !first {
				s.eventsDeduped.Add(1)
				return
			}
			// A dedup failure must never swallow the event.
		}

		if s.producer != nil {
			b, err := json.Marshal(ev)
			if err == nil {
				err = s.producer.Publish(ctx, s.topic, []byte(ev.Account), b)
			}
			if err != nil {
				s.publishErrors.Add(1)
				slog.Warn("progress publish failed", "phase", ev.Phase, "error", err.Error())
			} else {
				s.eventsPublished.Add(1)
			}
		}

		if onProgress != nil {
			onProgress(ev)
		}
	}
}
