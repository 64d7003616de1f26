package hotcache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	c, err := New(ctx, mr.Addr(), ttl, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestHotCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if got := c.Get(ctx, "nav", "k1"); got != nil {
		t.Fatalf("miss must return nil, got %q", got)
	}
	c.Put(ctx, "nav", "k1", []byte(`{"ok":true}`))
	if got := c.Get(ctx, "nav", "k1"); string(got) != `{"ok":true}` {
		t.Fatalf("round trip mismatch: %q", got)
	}
	// Kinds are namespaced apart.
	if got := c.Get(ctx, "corridor", "k1"); got != nil {
		t.Fatalf("kind namespace leaked: %q", got)
	}
}

func TestHotCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, 2*time.Second)
	ctx := context.Background()

	c.Put(ctx, "traffic", "k", []byte("v"))
	if got := c.Get(ctx, "traffic", "k"); string(got) != "v" {
		t.Fatalf("pre-expiry miss: %q", got)
	}
	mr.FastForward(3 * time.Second)
	if got := c.Get(ctx, "traffic", "k"); got != nil {
		t.Fatalf("expired entry survived: %q", got)
	}
}

func TestHotCache_NilTierIsNoOp(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	if got := c.Get(ctx, "nav", "k"); got != nil {
		t.Fatalf("nil tier must miss, got %q", got)
	}
	c.Put(ctx, "nav", "k", []byte("v")) // must not panic
	if err := c.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestHotCache_DeadRedisDegradesToMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	c.Put(ctx, "nav", "k", []byte("v"))
	mr.Close()
	if got := c.Get(ctx, "nav", "k"); got != nil {
		t.Fatalf("dead redis must degrade to a miss, got %q", got)
	}
}
