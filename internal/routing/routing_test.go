package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
)

const osrmFixture = `{
 "code": "Ok",
 "routes": [{
  "distance": 15250.6,
  "duration": 980.4,
  "geometry": {"type":"LineString","coordinates":[[153.02,-27.47],[153.03,-27.48],[153.05,-27.5]]},
  "legs": [{
   "distance": 15250.6,
   "duration": 980.4,
   "steps": [
    {"distance": 1400.0, "duration": 120.0, "name": "Ann Street",
     "geometry": {"type":"LineString","coordinates":[[153.02,-27.47],[153.03,-27.48]]},
     "maneuver": {"type":"depart","modifier":"straight","location":[153.02,-27.47],"bearing_before":0,"bearing_after":120}},
    {"distance": 13850.6, "duration": 860.4, "name": "Pacific Motorway",
     "geometry": {"type":"LineString","coordinates":[[153.03,-27.48],[153.05,-27.5]]},
     "maneuver": {"type":"weird move","modifier":"diagonal","location":[153.03,-27.48],"bearing_before":118,"bearing_after":125}}
   ]
  }]
 }]
}`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRouting(t *testing.T, baseURL string) *Service {
	t.Helper()
	cfg := config.Config{
		AlgoVersion: "navpack.v1.osrm.mld",
		OSRM:        config.OSRMCfg{URL: baseURL, Profile: "driving"},
	}
	return New(newTestStore(t), nil, &http.Client{Timeout: 5 * time.Second}, cfg, zerolog.Nop())
}

var navReq = model.NavRequest{Stops: []model.Stop{
	{Lat: -27.47, Lng: 153.02},
	{Lat: -27.5, Lng: 153.05},
}}

func TestRouteBuildsPack(t *testing.T) {
	var (
		calls    atomic.Int64
		mu       sync.Mutex
		gotPath  string
		gotQuery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(osrmFixture))
	}))
	t.Cleanup(srv.Close)

	svc := newRouting(t, srv.URL)
	route, err := svc.Route(context.Background(), navReq)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	mu.Lock()
	path, query := gotPath, gotQuery
	mu.Unlock()
	if path != "/route/v1/driving/153.020000,-27.470000;153.050000,-27.500000" {
		t.Fatalf("osrm path = %q", path)
	}
	for _, want := range []string{"overview=full", "geometries=geojson", "steps=true", "alternatives=false"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q: %s", want, query)
		}
	}

	wantKey, _, err := keying.RouteKey("navpack.v1.osrm.mld", navReq)
	if err != nil {
		t.Fatalf("route key: %v", err)
	}
	if route.RouteKey != wantKey {
		t.Fatalf("route_key = %s, want %s", route.RouteKey, wantKey)
	}
	if route.Provider != "osrm" || route.Profile != "drive" {
		t.Fatalf("provider/profile = %s/%s", route.Provider, route.Profile)
	}
	if route.DistanceM != 15251 || route.DurationS != 980 {
		t.Fatalf("distance/duration = %v/%v", route.DistanceM, route.DurationS)
	}
	if route.BBox != model.NewBBox(153.02, -27.5, 153.05, -27.47) {
		t.Fatalf("bbox = %v", route.BBox)
	}
	pts := keying.Polyline6Decode(route.Geometry)
	if len(pts) != 3 {
		t.Fatalf("overview points = %d", len(pts))
	}
}

func TestRouteLegStitchingAndManeuvers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(osrmFixture))
	}))
	t.Cleanup(srv.Close)

	route, err := newRouting(t, srv.URL).Route(context.Background(), navReq)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Legs) != 1 {
		t.Fatalf("legs = %d", len(route.Legs))
	}
	leg := route.Legs[0]

	// Two steps of [A,B] and [B,C] must stitch to [A,B,C]: the shared
	// junction point is dropped once.
	pts := keying.Polyline6Decode(leg.Geometry)
	if len(pts) != 3 {
		t.Fatalf("leg points = %d, want 3", len(pts))
	}
	if pts[1] != (model.LatLng{Lat: -27.48, Lng: 153.03}) {
		t.Fatalf("junction point = %+v", pts[1])
	}
	if leg.DistanceM != 15251 || leg.DurationS != 980 {
		t.Fatalf("leg distance/duration = %v/%v", leg.DistanceM, leg.DurationS)
	}

	if len(leg.Steps) != 2 {
		t.Fatalf("steps = %d", len(leg.Steps))
	}
	depart := leg.Steps[0].Maneuver
	if depart.Type != "depart" || depart.Modifier == nil || *depart.Modifier != "straight" {
		t.Fatalf("depart maneuver = %+v", depart)
	}
	odd := leg.Steps[1].Maneuver
	if odd.Type != "turn" {
		t.Fatalf("unknown maneuver type must coerce to turn, got %q", odd.Type)
	}
	if odd.Modifier != nil {
		t.Fatalf("unknown modifier must become null, got %q", *odd.Modifier)
	}
	if leg.Steps[1].Name != "Pacific Motorway" {
		t.Fatalf("step name = %q", leg.Steps[1].Name)
	}
}

func TestRouteServedFromCacheOnRepeat(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(osrmFixture))
	}))
	t.Cleanup(srv.Close)

	svc := newRouting(t, srv.URL)
	first, err := svc.Route(context.Background(), navReq)
	if err != nil {
		t.Fatalf("first route: %v", err)
	}
	second, err := svc.Route(context.Background(), navReq)
	if err != nil {
		t.Fatalf("second route: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("second call rebuilt the pack")
	}
	if calls.Load() != 1 {
		t.Fatalf("osrm calls = %d, want 1", calls.Load())
	}
}

func TestRouteUpstreamFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusBadGateway, "boom"},
		{"no routes", http.StatusOK, `{"code":"NoRoute","routes":[]}`},
		{"bad geometry", http.StatusOK, `{"code":"Ok","routes":[{"geometry":{"type":"MultiLineString"},"legs":[]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			_, err := newRouting(t, srv.URL).Route(context.Background(), navReq)
			var ae *apperr.Error
			if !errors.As(err, &ae) || ae.Code != apperr.CodeUnavailable {
				t.Fatalf("expected service_unavailable, got %v", err)
			}
		})
	}
}

func TestRouteRejectsSingleStop(t *testing.T) {
	svc := newRouting(t, "http://127.0.0.1:0")
	_, err := svc.Route(context.Background(), model.NavRequest{Stops: []model.Stop{{Lat: -27.47, Lng: 153.02}}})
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeBadRequest {
		t.Fatalf("expected bad_request, got %v", err)
	}
}
