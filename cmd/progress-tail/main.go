package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/slastra/whatnot-shipstation-integration/config"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/kafka"
	"github.com/slastra/whatnot-shipstation-integration/internal/broker/messages"
)

// progress-tail follows the sync progress topic and prints every event.
// Useful next to a running worker to watch a sync without polling /stats.
func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	topic := cfg.Kafka.SyncProgressTopicName
	if topic == "" {
		topic = "sync.progress"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, "progress-tail")
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = consumer.Consume(ctx, func(key, value []byte) error {
		var ev messages.SyncProgress
		if err := json.Unmarshal(value, &ev); err != nil {
			slog.Warn("bad progress event", "error", err.Error())
			return nil
		}

		attrs := []any{
			"pipeline", ev.Pipeline,
			"phase", ev.Phase,
		}
		if ev.Account != "" {
			attrs = append(attrs, "account", ev.Account)
		}
		if ev.Total > 0 {
			attrs = append(attrs, "processed", ev.Processed, "total", ev.Total)
		}
		if ev.Created > 0 {
			attrs = append(attrs, "created", ev.Created)
		}
		if ev.Updated > 0 {
			attrs = append(attrs, "updated", ev.Updated)
		}
		if ev.Failed > 0 {
			attrs = append(attrs, "failed", ev.Failed)
		}
		if ev.Message != "" {
			attrs = append(attrs, "message", ev.Message)
		}
		slog.Info("sync progress", attrs...)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		panic(err)
	}
}
