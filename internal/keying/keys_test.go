package keying

import (
	"errors"
	"regexp"
	"testing"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/model"
)

const navAlgo = "navpack.v1.osrm.mld"

var keyShape = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

func TestRouteKey_DefaultsCollapse(t *testing.T) {
	bare := model.NavRequest{Stops: []model.Stop{
		{Lat: -27.470125, Lng: 153.021072},
		{Lat: -27.5, Lng: 153.05},
	}}
	explicit := model.NavRequest{
		Profile: "drive",
		Stops: []model.Stop{
			{Lat: -27.470125, Lng: 153.021072, Type: model.StopPOI, Name: "Brisbane"},
			{Lat: -27.5, Lng: 153.05, Type: model.StopPOI, ID: "s2"},
		},
	}
	k1, _, err := RouteKey(navAlgo, bare)
	if err != nil {
		t.Fatalf("route key: %v", err)
	}
	k2, _, err := RouteKey(navAlgo, explicit)
	if err != nil {
		t.Fatalf("route key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("defaulted and explicit requests must share a key:\n k1=%s\n k2=%s", k1, k2)
	}
	if !keyShape.MatchString(k1) {
		t.Fatalf("malformed key: %s", k1)
	}
}

func TestRouteKey_CoordinateRounding(t *testing.T) {
	a := model.NavRequest{Stops: []model.Stop{
		{Lat: -27.4701254, Lng: 153.0210719},
		{Lat: -27.5, Lng: 153.05},
	}}
	b := model.NavRequest{Stops: []model.Stop{
		{Lat: -27.470125, Lng: 153.021072},
		{Lat: -27.5, Lng: 153.05},
	}}
	k1, _, _ := RouteKey(navAlgo, a)
	k2, _, _ := RouteKey(navAlgo, b)
	if k1 != k2 {
		t.Fatalf("sub-micro-degree noise split the key:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestRouteKey_StopOrderMatters(t *testing.T) {
	fwd := model.NavRequest{Stops: []model.Stop{
		{Lat: -27.47, Lng: 153.02},
		{Lat: -33.87, Lng: 151.21},
	}}
	rev := model.NavRequest{Stops: []model.Stop{
		{Lat: -33.87, Lng: 151.21},
		{Lat: -27.47, Lng: 153.02},
	}}
	k1, _, _ := RouteKey(navAlgo, fwd)
	k2, _, _ := RouteKey(navAlgo, rev)
	if k1 == k2 {
		t.Fatalf("reversed routes must not share a key")
	}
}

func TestRouteKey_AvoidSortedDepartIgnored(t *testing.T) {
	a := model.NavRequest{
		Stops: []model.Stop{
			{Lat: -27.47, Lng: 153.02},
			{Lat: -33.87, Lng: 151.21},
		},
		Avoid:    []string{"tolls", "ferries"},
		DepartAt: "2025-06-01T08:00:00+10:00",
	}
	b := model.NavRequest{
		Stops: []model.Stop{
			{Lat: -27.47, Lng: 153.02},
			{Lat: -33.87, Lng: 151.21},
		},
		Avoid: []string{"ferries", "tolls"},
	}
	k1, norm, _ := RouteKey(navAlgo, a)
	k2, _, _ := RouteKey(navAlgo, b)
	if k1 != k2 {
		t.Fatalf("avoid order or depart_at leaked into the key:\n k1=%s\n k2=%s", k1, k2)
	}
	if _, ok := norm["depart_at"]; ok {
		t.Fatalf("depart_at must not appear in the normalized request")
	}
}

func TestRouteKey_TooFewStops(t *testing.T) {
	_, _, err := RouteKey(navAlgo, model.NavRequest{Stops: []model.Stop{{Lat: -27.47, Lng: 153.02}}})
	if err == nil {
		t.Fatalf("expected an error for a single stop")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeBadRequest {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestRouteKey_AlgoVersionRollsKeyspace(t *testing.T) {
	req := model.NavRequest{Stops: []model.Stop{
		{Lat: -27.47, Lng: 153.02},
		{Lat: -33.87, Lng: 151.21},
	}}
	k1, _, _ := RouteKey("navpack.v1.osrm.mld", req)
	k2, _, _ := RouteKey("navpack.v2.osrm.mld", req)
	if k1 == k2 {
		t.Fatalf("algo version bump must change the key")
	}
}

func TestCorridorKey_ParamsSplitKeys(t *testing.T) {
	base, err := CorridorKey("corridor.v1.edgesqlite", "routekey", "drive", 15000, 350000)
	if err != nil {
		t.Fatalf("corridor key: %v", err)
	}
	if !keyShape.MatchString(base) {
		t.Fatalf("malformed key: %s", base)
	}
	wider, _ := CorridorKey("corridor.v1.edgesqlite", "routekey", "drive", 25000, 350000)
	if base == wider {
		t.Fatalf("buffer change must change the key")
	}
	fewer, _ := CorridorKey("corridor.v1.edgesqlite", "routekey", "drive", 15000, 100000)
	if base == fewer {
		t.Fatalf("edge cap change must change the key")
	}
}

func TestPlacesKey_BBoxQuery(t *testing.T) {
	bbox := model.NewBBox(152.9, -27.6, 153.1, -27.4)
	q := model.PlacesQuery{BBox: &bbox, Categories: []string{"toilet", "fuel", "fuel", "bogus"}, Limit: 100}
	k1, norm, err := PlacesKey("places.v1.overpass.tiled", q)
	if err != nil {
		t.Fatalf("places key: %v", err)
	}
	cats, ok := norm["categories"].([]string)
	if !ok || len(cats) != 2 || cats[0] != "fuel" || cats[1] != "toilet" {
		t.Fatalf("categories not cleaned and sorted: %v", norm["categories"])
	}
	q2 := model.PlacesQuery{BBox: &bbox, Categories: []string{"fuel", "toilet"}, Limit: 100}
	k2, _, _ := PlacesKey("places.v1.overpass.tiled", q2)
	if k1 != k2 {
		t.Fatalf("category noise split the key:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestPlacesKey_NeedsSomeAnchor(t *testing.T) {
	_, _, err := PlacesKey("places.v1.overpass.tiled", model.PlacesQuery{Categories: []string{"fuel"}})
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeBadRequest {
		t.Fatalf("expected bad_request for anchorless query, got %v", err)
	}
}

func TestPlacesKey_CenterRadius(t *testing.T) {
	q := model.PlacesQuery{Center: &model.LatLng{Lat: -27.47, Lng: 153.02}, RadiusM: 5000}
	k, norm, err := PlacesKey("places.v1.overpass.tiled", q)
	if err != nil {
		t.Fatalf("places key: %v", err)
	}
	if !keyShape.MatchString(k) {
		t.Fatalf("malformed key: %s", k)
	}
	if norm["radius_m"] != 5000.0 {
		t.Fatalf("radius missing from normalized query: %v", norm)
	}
}

func TestCorridorPlacesKey_PolylineHashed(t *testing.T) {
	poly := Polyline6Encode([]model.LatLng{
		{Lat: -27.47, Lng: 153.02},
		{Lat: -28.0, Lng: 153.4},
	})
	k1, payload, err := CorridorPlacesKey("places.v1.overpass.tiled", poly, 5, []string{"fuel"}, 500)
	if err != nil {
		t.Fatalf("corridor places key: %v", err)
	}
	sha, ok := payload["poly_sha256"].(string)
	if !ok || !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(sha) {
		t.Fatalf("payload must carry the polyline digest, got %v", payload["poly_sha256"])
	}
	k2, _, _ := CorridorPlacesKey("places.v1.overpass.tiled", poly+"a@", 5, []string{"fuel"}, 500)
	if k1 == k2 {
		t.Fatalf("different geometry must change the key")
	}
}

func TestOverlayKey_StateOrderIrrelevant(t *testing.T) {
	bbox := model.NewBBox(150.0, -30.0, 154.0, -26.0)
	k1, err := OverlayKey("traffic.v2.qldtraffic.events", bbox, []string{"qld", "nsw"})
	if err != nil {
		t.Fatalf("overlay key: %v", err)
	}
	k2, _ := OverlayKey("traffic.v2.qldtraffic.events", bbox, []string{"nsw", "qld"})
	if k1 != k2 {
		t.Fatalf("state order split the key:\n k1=%s\n k2=%s", k1, k2)
	}
	k3, _ := OverlayKey("hazards.v1.qld.cap", bbox, []string{"nsw", "qld"})
	if k1 == k3 {
		t.Fatalf("traffic and hazards keyspaces must not collide")
	}
}

func TestOverlayKeyFiltered(t *testing.T) {
	bbox := model.NewBBox(150.0, -30.0, 154.0, -26.0)
	states := []string{"nsw", "qld"}

	plain, err := OverlayKey("hazards.v1.qld.cap", bbox, states)
	if err != nil {
		t.Fatalf("overlay key: %v", err)
	}
	empty, err := OverlayKeyFiltered("hazards.v1.qld.cap", bbox, states, nil)
	if err != nil {
		t.Fatalf("filtered key: %v", err)
	}
	if empty != plain {
		t.Fatalf("empty filter must collapse to the unfiltered key:\n plain=%s\n empty=%s", plain, empty)
	}

	f1, _ := OverlayKeyFiltered("hazards.v1.qld.cap", bbox, states, []string{"nsw_rfs", "bom_rss_nsw"})
	if f1 == plain {
		t.Fatalf("source filter must split the keyspace")
	}
	f2, _ := OverlayKeyFiltered("hazards.v1.qld.cap", bbox, states, []string{"bom_rss_nsw", "nsw_rfs"})
	if f1 != f2 {
		t.Fatalf("source order split the key:\n f1=%s\n f2=%s", f1, f2)
	}
}
