package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{
		rdb: rdb,
		ttl: ttl,
	}
}

// NewDeduperWithLogger creates a deduper with logger support.
func NewDeduperWithLogger(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given handler + op key.
// Returns true if this is the FIRST time processing, false on duplicate.
// When redis is unavailable we allow processing rather than drop work;
// the remote API tolerates repeated label operations.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, opKey string) bool {
	key := fmt.Sprintf("dedup:%s:%s", handler, opKey)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("op_key", opKey),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated operation",
			zap.String("handler", handler),
			zap.String("op_key", opKey),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the dedup key after a failed execution so a redelivery
// of the same operation is not skipped as a duplicate. Best effort: if
// the delete fails the key still expires with its TTL.
func (d *Deduper) Release(ctx context.Context, handler, opKey string) {
	key := fmt.Sprintf("dedup:%s:%s", handler, opKey)

	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("op_key", opKey),
			zap.Error(err),
		)
	}
}
