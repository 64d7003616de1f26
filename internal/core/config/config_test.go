package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.CorridorBufferM != 15000 {
		t.Fatalf("CorridorBufferM = %v, want 15000", cfg.CorridorBufferM)
	}
	if cfg.CorridorMaxEdges != 350000 {
		t.Fatalf("CorridorMaxEdges = %v, want 350000", cfg.CorridorMaxEdges)
	}
	if cfg.Places.TileStepDeg != 0.15 {
		t.Fatalf("TileStepDeg = %v, want 0.15", cfg.Places.TileStepDeg)
	}
	if cfg.Places.TileTTL != 14*24*time.Hour {
		t.Fatalf("TileTTL = %v, want 336h", cfg.Places.TileTTL)
	}
	if cfg.Overlays.CacheFor != 120*time.Second {
		t.Fatalf("Overlays.CacheFor = %v, want 2m", cfg.Overlays.CacheFor)
	}
	if cfg.Overpass.RetryBase != 750*time.Millisecond {
		t.Fatalf("Overpass.RetryBase = %v, want 750ms", cfg.Overpass.RetryBase)
	}
	if got := cfg.Feeds.BOMRSS["qld"]; got == "" {
		t.Fatalf("BOMRSS[qld] empty, want default feed URL")
	}
}

func TestFromEnvOverridesAndClamps(t *testing.T) {
	t.Setenv("PLACES_LOCAL_SATISFY_RATIO", "1.8")
	t.Setenv("PLACES_TILE_STEP_DEG", "-3")
	t.Setenv("OVERPASS_TIMEOUT_S", "12.5")
	t.Setenv("CACHE_DB_PATH", "/tmp/x.db")
	t.Setenv("CORRIDOR_BUFFER_M_DEFAULT", "200")

	cfg := FromEnv()

	if cfg.Places.LocalSatisfyRatio != 1 {
		t.Fatalf("LocalSatisfyRatio = %v, want clamp to 1", cfg.Places.LocalSatisfyRatio)
	}
	if cfg.CorridorBufferM != 1000 {
		t.Fatalf("CorridorBufferM = %v, want clamp to 1000", cfg.CorridorBufferM)
	}
	if cfg.Places.TileStepDeg != 0.15 {
		t.Fatalf("TileStepDeg = %v, want default after bad value", cfg.Places.TileStepDeg)
	}
	if cfg.Overpass.Timeout != 12500*time.Millisecond {
		t.Fatalf("Overpass.Timeout = %v, want 12.5s", cfg.Overpass.Timeout)
	}
	if cfg.CacheDBPath != "/tmp/x.db" {
		t.Fatalf("CacheDBPath = %q, want /tmp/x.db", cfg.CacheDBPath)
	}
}
