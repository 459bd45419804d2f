// Package cache holds the key-value backends used to memoize aggregation results.
package cache

import (
	"context"
	"time"
)

// Interface is satisfied by the Redis client and the in-process LRU.
// Incr creates the key at zero when absent and never expires it.
type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}
