// Package redisstore is the Redis tier of the aggregation cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/polygon-parts/internal/cache"
	"github.com/mohammed-shakir/polygon-parts/internal/core/observability"
)

var _ cache.Interface = (*Client)(nil)

type Option func(*redis.Options)

func WithPassword(p string) Option {
	return func(o *redis.Options) { o.Password = p }
}

func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

func WithPoolSize(n int) Option {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

// WithReadTimeout also bounds writes; aggregation payloads are small.
func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		o.ReadTimeout = d
		o.WriteTimeout = d
	}
}

type Client struct {
	rdb *redis.Client
}

// New connects and pings addr. The connection is closed again if the ping fails.
func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	c := &Client{rdb: redis.NewClient(ro)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// observe times fn under op and records the outcome.
func observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	return err
}

// MGet returns only the keys that exist.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var vals []any
	err := observe("mget", func() (err error) {
		vals, err = c.rdb.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := observe("set", func() error { return c.rdb.Set(ctx, key, val, ttl).Err() }); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := observe("del", func() error { return c.rdb.Del(ctx, keys...).Err() }); err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Incr bumps a partition generation counter. Counters never expire.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := observe("incr", func() (err error) {
		n, err = c.rdb.Incr(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis INCR %q: %w", key, err)
	}
	return n, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := observe("ping", func() error { return c.rdb.Ping(ctx).Err() }); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
