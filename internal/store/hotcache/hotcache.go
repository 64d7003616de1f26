// Package hotcache is an optional Redis tier in front of the SQLite pack
// store. It is never authoritative: every miss or Redis error falls through
// to SQLite, so a dead Redis only costs latency.
package hotcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// New connects and pings. A nil *Cache is a valid no-op tier, so callers can
// hold the result of New without branching on whether Redis is configured.
func New(ctx context.Context, addr string, ttl time.Duration, log zerolog.Logger, opts ...Option) (*Cache, error) {
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
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log}, nil
}

func packKey(kind, key string) string {
	return "pack:" + kind + ":" + key
}

// Get returns the cached pack body or nil on miss. Redis errors degrade to a
// miss.
func (c *Cache) Get(ctx context.Context, kind, key string) []byte {
	if c == nil {
		return nil
	}
	v, err := c.rdb.Get(ctx, packKey(kind, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.IncCacheMiss("hot")
		return nil
	}
	if err != nil {
		c.log.Debug().Err(err).Str("kind", kind).Msg("hot cache read failed")
		observability.IncCacheMiss("hot")
		return nil
	}
	observability.IncCacheHit("hot")
	return v
}

// Put stores the pack body under the tier TTL. Failures are logged and
// dropped.
func (c *Cache) Put(ctx context.Context, kind, key string, body []byte) {
	if c == nil || len(body) == 0 {
		return
	}
	if err := c.rdb.Set(ctx, packKey(kind, key), body, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("kind", kind).Msg("hot cache write failed")
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
