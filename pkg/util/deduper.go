package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper guards once-only processing steps (e.g. handling a reply on a
// thread) across overlapping job runs.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given step + entity id.
// It returns true if this is the first time the step runs for the entity,
// false if it is a duplicate. When redis is unavailable processing is
// allowed rather than blocked.
func (d *Deduper) AcquireOnce(ctx context.Context, step string, id int64) bool {
	key := fmt.Sprintf("dedup:%s:%d", step, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("step", step),
				zap.Int64("id", id),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated step",
			zap.String("step", step),
			zap.Int64("id", id),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the dedup lock so a failed step can be retried on the next
// delivery.
func (d *Deduper) Release(ctx context.Context, step string, id int64) {
	key := fmt.Sprintf("dedup:%s:%d", step, id)
	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
