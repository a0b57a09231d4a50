package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Deduper struct {
	c *redis.Client
}

func NewDeduper(addr string) *Deduper {
	return &Deduper{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// First does INCR on the key and sets the TTL when the key is created.
// Returns true only for the first occurrence inside the window, so callers
// can suppress repeated log lines without scanning anything.
func (d *Deduper) First(ctx context.Context, key string, window time.Duration) (bool, error) {
	pipe := d.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, "redis dedup")
	}
	return incr.Val() == 1, nil
}
