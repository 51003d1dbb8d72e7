package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 用 Redis SETNX 保证同一事件在同一 handler 中只处理一次
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

func dedupKey(handler, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, eventID)
}

// AcquireOnce returns true the first time handler sees eventID and false for duplicates.
// Redis 不可用时放行，由存储层唯一约束兜底
func (d *Deduper) AcquireOnce(ctx context.Context, handler, eventID string) bool {
	if d == nil || d.rdb == nil {
		return true
	}
	key := dedupKey(handler, eventID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Release 删除去重标记，处理失败需要重投时调用
func (d *Deduper) Release(ctx context.Context, handler, eventID string) {
	if d == nil || d.rdb == nil {
		return
	}
	if err := d.rdb.Del(ctx, dedupKey(handler, eventID)).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}
}
