package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/bundle"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/corridor"
	"github.com/roamtrip/roampack/internal/edges"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/overlays"
	"github.com/roamtrip/roampack/internal/places"
	"github.com/roamtrip/roampack/internal/store"
)

type fakeEdges struct {
	rows []edges.Row
	err  error
}

func (f *fakeEdges) QueryBBox(ctx context.Context, minLng, maxLng, minLat, maxLat float64, maxEdges int) ([]edges.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeEdges) Count(ctx context.Context) (int64, error) { return int64(len(f.rows)), nil }
func (f *fakeEdges) Close() error                             { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// newTestEngine wires the full build chain against a fake edge store and
// no external feeds, so every pack assembles from local state.
func newTestEngine(t *testing.T, st *store.Store, ed edges.Store) (*Engine, *bundle.Service) {
	t.Helper()
	cfg := config.Config{CorridorBufferM: 15000, CorridorMaxEdges: 350000}
	co := corridor.New(st, nil, ed, "corridor-v1", zerolog.Nop())
	pl := places.New(st, nil, nil, nil, cfg, zerolog.Nop())
	tr := overlays.NewTraffic(st, nil, nil, cfg, zerolog.Nop())
	hz := overlays.NewHazards(st, nil, nil, cfg, zerolog.Nop())
	bu := bundle.New(st, zerolog.Nop())
	return New(co, pl, tr, hz, bu, cfg, zerolog.Nop()), bu
}

func brisbaneEdges() []edges.Row {
	return []edges.Row{
		{ID: 1, FromID: 10, ToID: 11, FromLat: -27.47, FromLng: 153.02, ToLat: -27.48, ToLng: 152.99, DistM: 3200, CostS: 180, Highway: "motorway"},
		{ID: 2, FromID: 11, ToID: 12, FromLat: -27.48, FromLng: 152.99, ToLat: -27.50, ToLng: 152.70, DistM: 29000, CostS: 1400, Highway: "trunk", Toll: true},
	}
}

func seedNav(t *testing.T, st *store.Store, routeKey string) {
	t.Helper()
	if err := st.PutNavPack(context.Background(), routeKey, []byte(`{"route_key":"`+routeKey+`","legs":[]}`)); err != nil {
		t.Fatalf("seed nav pack: %v", err)
	}
}

func twoPointRoute() string {
	return keying.Polyline6Encode([]model.LatLng{
		{Lat: -27.47, Lng: 153.02},
		{Lat: -27.50, Lng: 152.70},
	})
}

func TestBuildBundleAssemblesEveryPack(t *testing.T) {
	st := newTestStore(t)
	eng, bu := newTestEngine(t, st, &fakeEdges{rows: brisbaneEdges()})
	seedNav(t, st, "rk-test")
	if _, err := st.UpsertPlaces(context.Background(), []model.PlaceItem{
		{ID: "osm:node:1", Name: "Corridor Servo", Lat: -27.48, Lng: 152.95, Category: model.CatFuel},
	}); err != nil {
		t.Fatalf("seed places: %v", err)
	}

	m, err := eng.BuildBundle(context.Background(), BuildRequest{
		PlanID:   "plan-1",
		RouteKey: "rk-test",
		Geometry: twoPointRoute(),
		Styles:   []string{"outback-day"},
	})
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}

	for name, a := range map[string]model.ManifestAsset{
		"navpack": m.Navpack, "corridor": m.Corridor, "places": m.Places,
		"traffic": m.Traffic, "hazards": m.Hazards,
	} {
		if a.Status != model.AssetReady {
			t.Errorf("%s status = %q, want ready", name, a.Status)
		}
		if a.Bytes <= 0 {
			t.Errorf("%s bytes = %d, want positive", name, a.Bytes)
		}
	}
	if m.BytesTotal <= 0 {
		t.Fatalf("bytes_total = %d", m.BytesTotal)
	}

	// Every referenced pack must actually be in the store.
	ctx := context.Background()
	if p, _ := st.GetCorridorPack(ctx, m.Corridor.Key); p == nil {
		t.Error("corridor pack not persisted")
	}
	if p, _ := st.GetPlacesPack(ctx, m.Places.Key); p == nil {
		t.Error("places pack not persisted")
	}
	if p, _ := st.GetTrafficPack(ctx, m.Traffic.Key); p == nil {
		t.Error("traffic pack not persisted")
	}
	if p, _ := st.GetHazardsPack(ctx, m.Hazards.Key); p == nil {
		t.Error("hazards pack not persisted")
	}

	// And the whole thing must be packageable.
	res, err := bu.BuildZip(ctx, "plan-1")
	if err != nil {
		t.Fatalf("build zip after build: %v", err)
	}
	if res.BytesZip == 0 || res.BytesCorridor == 0 {
		t.Fatalf("zip result incomplete: %+v", res)
	}
}

func TestBuildBundleValidatesRequest(t *testing.T) {
	st := newTestStore(t)
	eng, _ := newTestEngine(t, st, &fakeEdges{})

	cases := []BuildRequest{
		{RouteKey: "rk", Geometry: "abc"},
		{PlanID: "p", Geometry: "abc"},
		{PlanID: "p", RouteKey: "rk"},
	}
	for i, req := range cases {
		_, err := eng.BuildBundle(context.Background(), req)
		if code, _ := apperr.CodeOf(err); code != apperr.CodeBadRequest {
			t.Errorf("case %d: err = %v, want bad_request", i, err)
		}
	}
}

func TestBuildBundleDegenerateGeometryShipsNavOnly(t *testing.T) {
	st := newTestStore(t)
	eng, _ := newTestEngine(t, st, &fakeEdges{rows: brisbaneEdges()})
	seedNav(t, st, "rk-short")

	poly := keying.Polyline6Encode([]model.LatLng{{Lat: -27.47, Lng: 153.02}})
	m, err := eng.BuildBundle(context.Background(), BuildRequest{
		PlanID:   "plan-short",
		RouteKey: "rk-short",
		Geometry: poly,
	})
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if m.Navpack.Status != model.AssetReady || m.Corridor.Status != model.AssetReady {
		t.Fatalf("nav/corridor should still be ready: %+v", m)
	}
	for name, a := range map[string]model.ManifestAsset{
		"places": m.Places, "traffic": m.Traffic, "hazards": m.Hazards,
	} {
		if a.Status != model.AssetMissing || a.Key != "" {
			t.Errorf("%s = %+v, want missing with no key", name, a)
		}
	}
}

func TestBuildBundleRebuildKeysAreStable(t *testing.T) {
	st := newTestStore(t)
	eng, _ := newTestEngine(t, st, &fakeEdges{rows: brisbaneEdges()})
	seedNav(t, st, "rk-test")

	req := BuildRequest{PlanID: "plan-a", RouteKey: "rk-test", Geometry: twoPointRoute()}
	first, err := eng.BuildBundle(context.Background(), req)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	req.PlanID = "plan-b"
	second, err := eng.BuildBundle(context.Background(), req)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if first.Corridor.Key != second.Corridor.Key {
		t.Errorf("corridor keys differ: %q vs %q", first.Corridor.Key, second.Corridor.Key)
	}
	if first.Places.Key != second.Places.Key {
		t.Errorf("places keys differ: %q vs %q", first.Places.Key, second.Places.Key)
	}
	if first.Traffic.Key != second.Traffic.Key {
		t.Errorf("traffic keys differ: %q vs %q", first.Traffic.Key, second.Traffic.Key)
	}
}

func TestBuildBundleEdgeStoreFailurePropagates(t *testing.T) {
	st := newTestStore(t)
	eng, _ := newTestEngine(t, st, &fakeEdges{err: context.DeadlineExceeded})
	seedNav(t, st, "rk-test")

	_, err := eng.BuildBundle(context.Background(), BuildRequest{
		PlanID:   "plan-x",
		RouteKey: "rk-test",
		Geometry: twoPointRoute(),
	})
	if code, _ := apperr.CodeOf(err); code != apperr.CodeUnavailable {
		t.Fatalf("err = %v, want service_unavailable", err)
	}
}
