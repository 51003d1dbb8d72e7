package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRetryCounter(rdb *redis.Client, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet increments the retry count for a given key and returns the new count
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	if r == nil || r.rdb == nil {
		return 1, nil
	}
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}
	return count, nil
}

func (r *RetryCounter) Get(ctx context.Context, key string) (int64, error) {
	if r == nil || r.rdb == nil {
		return 0, nil
	}
	count, err := r.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, key).Err()
}

func FormatRetryKey(handler, eventID string) string {
	return fmt.Sprintf("retry:%s:%s", handler, eventID)
}
