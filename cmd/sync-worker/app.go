package main

import (
	"context"
	"fmt"
	"time"

	"github.com/slastra/whatnot-shipstation-integration/config"
	"github.com/slastra/whatnot-shipstation-integration/internal/accounts"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/kafka"
	"github.com/slastra/whatnot-shipstation-integration/internal/cache/rediscache"
	"github.com/slastra/whatnot-shipstation-integration/internal/integrations/shipstation"
	"github.com/slastra/whatnot-shipstation-integration/internal/integrations/whatnot"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/ordersync"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/syncer"
	"github.com/slastra/whatnot-shipstation-integration/internal/services/trackingsync"
	"github.com/slastra/whatnot-shipstation-integration/internal/storage/pgstate"
)

// stateStorage is everything the pipelines need from the pg store: the order
// cursor for whatnot and the tracking resume state.
type stateStorage interface {
	whatnot.CursorStore
	trackingsync.StateStore
}

type workerFactories struct {
	newStorage    func(cfg *config.Config) (st stateStorage, closeFn func(), err error)
	newProducer   func(cfg *config.Config) syncer.Publisher
	newDeduper    func(cfg *config.Config) syncer.LogDeduper
	newItemsCache func(cfg *config.Config) ordersync.BytesCache
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (stateStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgstate.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) syncer.Publisher {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newDeduper: func(cfg *config.Config) syncer.LogDeduper {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewDeduper(redisAddr)
		},
		newItemsCache: func(cfg *config.Config) ordersync.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
	}
}

// fileAccounts reloads the accounts file on every run, so accounts can be
// added or disabled without restarting the worker.
type fileAccounts struct {
	path string
}

func (f fileAccounts) Load() ([]models.Account, error) {
	return accounts.Load(f.path)
}

func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.SyncProgressTopicName
	if topic == "" {
		topic = "sync.progress"
	}

	itemsTTL := time.Duration(cfg.Sync.OrderItemsTTLSeconds) * time.Second
	if itemsTTL <= 0 {
		itemsTTL = time.Hour
	}
	dedupWindow := time.Duration(cfg.Sync.LogDedupWindowSeconds) * time.Second
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	lookback := time.Duration(cfg.Sync.TrackingLookbackDays) * 24 * time.Hour

	var minOrderDate time.Time
	if cfg.Whatnot.MinOrderDate != "" {
		t, err := time.Parse("2006-01-02", cfg.Whatnot.MinOrderDate)
		if err != nil {
			return fmt.Errorf("bad whatnot min_order_date %q: %w", cfg.Whatnot.MinOrderDate, err)
		}
		minOrderDate = t
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	wn := whatnot.New(whatnot.Config{
		BaseURL:      cfg.Whatnot.BaseURL,
		PageSize:     cfg.Whatnot.PageSize,
		MinOrderDate: minOrderDate,
		PageDelay:    time.Duration(cfg.Whatnot.PageDelayMillis) * time.Millisecond,
		Timeout:      time.Duration(cfg.Whatnot.RequestTimeoutSecs) * time.Second,
	}, st)

	ss := shipstation.New(shipstation.Config{
		BaseURL:          cfg.ShipStation.BaseURL,
		APIKey:           cfg.ShipStation.APIKey,
		APISecret:        cfg.ShipStation.APISecret,
		RatePerMinute:    cfg.ShipStation.RatePerMinute,
		MaxRetries:       cfg.ShipStation.MaxRetries,
		ShipmentPageSize: cfg.ShipStation.ShipmentPageSize,
		Timeout:          time.Duration(cfg.ShipStation.RequestTimeoutSecs) * time.Second,
	})

	orderSvc := ordersync.New(wn, ss)
	if f.newItemsCache != nil {
		if c := f.newItemsCache(cfg); c != nil {
			orderSvc.WithItemsCache(c, itemsTTL)
		}
	}
	trackingSvc := trackingsync.New(wn, ss, st, lookback)

	sy := syncer.New(orderSvc, trackingSvc, fileAccounts{path: cfg.Sync.AccountsPath})
	if f.newProducer != nil {
		if p := f.newProducer(cfg); p != nil {
			sy.WithProducer(p, topic)
		}
	}
	if f.newDeduper != nil {
		if d := f.newDeduper(cfg); d != nil {
			sy.WithLogDeduper(d, dedupWindow)
		}
	}

	return runWorkerHTTPServer(ctx, workerHTTPOpts{
		httpAddr: cfg.Sync.HTTPAddr,
		syncer:   sy,
	})
}
