package overlays

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTraffic(t *testing.T, feeds config.FeedsCfg, oc config.OverlaysCfg) *Traffic {
	t.Helper()
	cfg := config.Config{Feeds: feeds, Overlays: oc}
	return NewTraffic(newTestStore(t), nil, &http.Client{Timeout: 5 * time.Second}, cfg, zerolog.Nop())
}

func serveJSON(t *testing.T, calls *atomic.Int64, body func() string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Brisbane, away from the NSW border so only QLD overlaps. The wide box
// clears the loose-admit diagonal, the tight one does not.
var (
	bbBrisbane      = model.NewBBox(152.9, -27.49, 153.2, -27.3)
	bbBrisbaneTight = model.NewBBox(152.98, -27.45, 153.05, -27.40)
	bbSydney        = model.NewBBox(151.0, -34.0, 151.4, -33.7)
	bbMelbourne     = model.NewBBox(144.5, -38.0, 145.5, -37.7)
	bbTasmanSea     = model.NewBBox(158.0, -40.0, 160.0, -38.0)
)

func TestTrafficStatesForQuery(t *testing.T) {
	if got := trafficStates(bbBrisbane); len(got) != 1 || got[0] != "qld" {
		t.Fatalf("brisbane states = %v", got)
	}
	// The ACT has no feed of its own; an ACT-only box polls NSW.
	canberra := model.NewBBox(149.0, -35.4, 149.2, -35.2)
	if got := trafficStates(canberra); len(got) != 1 || got[0] != "nsw" {
		t.Fatalf("canberra states = %v", got)
	}
	if got := trafficStates(bbTasmanSea); len(got) != 0 {
		t.Fatalf("open water states = %v", got)
	}
}

func TestTrafficPollQLDFanOut(t *testing.T) {
	var calls atomic.Int64
	srv := serveJSON(t, &calls, func() string {
		return `{"features":[
			{"type":"Feature","id":"E1","geometry":{"type":"Point","coordinates":[153.0,-27.4]},
			 "properties":{"status":"Published","event_type":"Crash","description":"Two vehicle crash"}},
			{"type":"Feature","id":"E2","geometry":{"type":"Point","coordinates":[153.01,-27.41]},
			 "properties":{"status":"Published","event_type":"Roadworks","end":"2020-01-01T00:00:00Z"}}
		]}`
	})

	tr := newTraffic(t, config.FeedsCfg{QLDTrafficURL: srv.URL}, config.OverlaysCfg{})
	pack, err := tr.Poll(context.Background(), bbBrisbane, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if pack.Provider != "qld" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Warnings) != 0 {
		t.Fatalf("warnings = %v", pack.Warnings)
	}
	if len(pack.Items) != 1 {
		t.Fatalf("items = %d, want 1 (ended event dropped)", len(pack.Items))
	}
	ev := pack.Items[0]
	if ev.ID != stableID("qldtraffic", "events", "E1") {
		t.Fatalf("id = %q", ev.ID)
	}
	if ev.Type != model.TrafficCrash || ev.Region != "qld" {
		t.Fatalf("type/region = %s/%s", ev.Type, ev.Region)
	}

	// Identical query inside the cache window resolves from the store.
	again, err := tr.Poll(context.Background(), bbBrisbane, 0, 0)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if again.TrafficKey != pack.TrafficKey {
		t.Fatalf("keys differ: %q vs %q", again.TrafficKey, pack.TrafficKey)
	}
	if !again.CreatedAt.Equal(pack.CreatedAt) {
		t.Fatal("second poll rebuilt instead of serving the cached pack")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
}

func TestTrafficPollNSWWithoutKeyWarns(t *testing.T) {
	tr := newTraffic(t, config.FeedsCfg{
		NSWTrafficEnabled: true,
		NSWTrafficBase:    "http://nsw.invalid/v1/live/hazards",
	}, config.OverlaysCfg{})

	pack, err := tr.Poll(context.Background(), bbSydney, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pack.Provider != "nsw:empty" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Warnings) != 1 ||
		pack.Warnings[0] != "traffic:nsw skipped — no API key (set NSW_TRAFFIC_API_KEY)" {
		t.Fatalf("warnings = %v", pack.Warnings)
	}
	if len(pack.Items) != 0 {
		t.Fatalf("items = %d", len(pack.Items))
	}
}

func TestTrafficPollNSWFansOutPerFeed(t *testing.T) {
	var mu sync.Mutex
	paths := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "apikey nswkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		paths[r.URL.Path] = true
		mu.Unlock()
		if r.URL.Path == "/fires" {
			w.Write([]byte(`{"features":[{"id":"F1",
				"geometry":{"type":"Point","coordinates":[151.2,-33.85]},
				"properties":{"headline":"Grass fire near Parramatta","mainCategory":"Fire"}}]}`))
			return
		}
		w.Write([]byte(`{"features":[]}`))
	}))
	t.Cleanup(srv.Close)

	tr := newTraffic(t, config.FeedsCfg{
		NSWTrafficEnabled: true,
		NSWTrafficBase:    srv.URL,
		NSWTrafficAPIKey:  "nswkey",
	}, config.OverlaysCfg{})

	pack, err := tr.Poll(context.Background(), bbSydney, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(pack.Warnings) != 0 {
		t.Fatalf("warnings = %v", pack.Warnings)
	}

	mu.Lock()
	got := len(paths)
	mu.Unlock()
	if got != len(nswFeedTypes) {
		t.Fatalf("feeds hit = %d, want %d", got, len(nswFeedTypes))
	}

	if len(pack.Items) != 1 {
		t.Fatalf("items = %d", len(pack.Items))
	}
	ev := pack.Items[0]
	if ev.Feed != "fires" || ev.Type != model.TrafficHazard || ev.Severity != model.SeverityMajor {
		t.Fatalf("fires override = (%s, %s, %s)", ev.Feed, ev.Type, ev.Severity)
	}
	if pack.Provider != "nsw" {
		t.Fatalf("provider = %q", pack.Provider)
	}
}

func TestTrafficPollQLDDeltaMerge(t *testing.T) {
	var fullCalls, deltaCalls atomic.Int64
	full := serveJSON(t, &fullCalls, func() string {
		return `{"features":[` +
			qldFeature("E1", "Published", "Crash") + `,` +
			qldFeature("E2", "Published", "Roadworks") + `]}`
	})
	delta := serveJSON(t, &deltaCalls, func() string {
		return `{"features":[` +
			qldFeature("E2", "Closed", "Roadworks") + `,` +
			qldFeature("E3", "Published", "Flooding") + `]}`
	})

	tr := newTraffic(t, config.FeedsCfg{
		QLDTrafficURL:      full.URL,
		QLDTrafficDeltaURL: delta.URL,
	}, config.OverlaysCfg{
		QLDFullRefresh: time.Hour,
		QLDCacheFor:    time.Millisecond,
	})

	pack, err := tr.Poll(context.Background(), bbBrisbane, 0, 0)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(pack.Items) != 2 {
		t.Fatalf("first poll items = %d", len(pack.Items))
	}

	// Let the snapshot age past the serve-fresh window, then force a
	// rebuild past the pack cache. The full snapshot is still young, so
	// only the delta feed is consulted.
	time.Sleep(5 * time.Millisecond)
	pack, err = tr.Poll(context.Background(), bbBrisbane, time.Nanosecond, 0)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}

	ids := map[string]bool{}
	for _, ev := range pack.Items {
		ids[ev.ID] = true
	}
	if len(ids) != 2 || !ids[stableID("qldtraffic", "events", "E1")] || !ids[stableID("qldtraffic", "events", "E3")] {
		t.Fatalf("merged ids = %v", ids)
	}
	if ids[stableID("qldtraffic", "events", "E2")] {
		t.Fatal("tombstoned event survived the delta merge")
	}
	if fullCalls.Load() != 1 || deltaCalls.Load() != 1 {
		t.Fatalf("full/delta calls = %d/%d", fullCalls.Load(), deltaCalls.Load())
	}
}

func TestTrafficPollNoStates(t *testing.T) {
	tr := newTraffic(t, config.FeedsCfg{}, config.OverlaysCfg{})
	pack, err := tr.Poll(context.Background(), bbTasmanSea, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pack.Provider != "no_states" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Warnings) != 1 || pack.Warnings[0] != "No Australian states overlap this bbox." {
		t.Fatalf("warnings = %v", pack.Warnings)
	}
}

func TestTrafficLooseAdmitForNoGeometry(t *testing.T) {
	var calls atomic.Int64
	srv := serveJSON(t, &calls, func() string {
		return `{"features":[{"type":"Feature","id":"E9",
			"properties":{"status":"Published","event_type":"Hazard","headline":"Loose stock reported"}}]}`
	})
	tr := newTraffic(t, config.FeedsCfg{QLDTrafficURL: srv.URL}, config.OverlaysCfg{})

	tight, err := tr.Poll(context.Background(), bbBrisbaneTight, 0, 0)
	if err != nil {
		t.Fatalf("tight poll: %v", err)
	}
	if len(tight.Items) != 0 {
		t.Fatalf("tight bbox admitted %d non-spatial events", len(tight.Items))
	}

	wide, err := tr.Poll(context.Background(), bbBrisbane, 0, 0)
	if err != nil {
		t.Fatalf("wide poll: %v", err)
	}
	if len(wide.Items) != 1 {
		t.Fatalf("wide bbox items = %d, want 1", len(wide.Items))
	}

	// Both polls ride on one snapshot fetch.
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
}

func TestTrafficPollVICHeaderAndPaging(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("KeyID") != "vickey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"value":[{"id":"D1","event_type":"Road Closure - Emergency",
			"headline":"Bourke St closed","latitude":-37.81,"longitude":144.96,"severity":"high"}]}`))
	}))
	t.Cleanup(srv.Close)

	tr := newTraffic(t, config.FeedsCfg{
		VICTrafficEnabled: true,
		VICTrafficURL:     srv.URL,
		VICTrafficAPIKey:  "vickey",
	}, config.OverlaysCfg{})

	pack, err := tr.Poll(context.Background(), bbMelbourne, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(pack.Items) != 1 {
		t.Fatalf("items = %d, warnings = %v", len(pack.Items), pack.Warnings)
	}
	ev := pack.Items[0]
	if ev.Type != model.TrafficClosure || ev.Severity != model.SeverityMajor {
		t.Fatalf("classified = (%s, %s)", ev.Type, ev.Severity)
	}
	if ev.ID != stableID("vic_traffic", "disruptions", "D1") {
		t.Fatalf("id = %q", ev.ID)
	}
	// A short page ends pagination after one request.
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
}
