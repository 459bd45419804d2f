// Package local is an in-process aggregation cache for single-replica deployments.
package local

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/polygon-parts/internal/cache"
)

var _ cache.Interface = (*Cache)(nil)

type entry struct {
	val      []byte
	deadline time.Time // zero means no per-entry deadline
}

// Cache bounds values by size and TTL. Counters created by Incr live outside
// the LRU so eviction can never roll a generation back.
type Cache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time

	mu       sync.Mutex
	counters map[string]int64
}

// New builds a cache holding at most size values. maxTTL caps every entry.
func New(size int, maxTTL time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		lru:      expirable.NewLRU[string, entry](size, nil, maxTTL),
		now:      time.Now,
		counters: map[string]int64{},
	}
}

func (c *Cache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	now := c.now()

	c.mu.Lock()
	for _, k := range keys {
		if n, ok := c.counters[k]; ok {
			out[k] = strconv.AppendInt(nil, n, 10)
		}
	}
	c.mu.Unlock()

	for _, k := range keys {
		if _, ok := out[k]; ok {
			continue
		}
		e, ok := c.lru.Get(k)
		if !ok {
			continue
		}
		if !e.deadline.IsZero() && !now.Before(e.deadline) {
			c.lru.Remove(k)
			continue
		}
		out[k] = e.val
	}
	return out, nil
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.deadline = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.counters, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return nil
}

func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// Len reports the number of cached values, counters excluded.
func (c *Cache) Len() int { return c.lru.Len() }
