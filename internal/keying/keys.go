package keying

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/model"
)

// Round6 clips a coordinate to 1e-6 degrees, matching the polyline precision.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// NormalizeRoute reduces a nav request to the fields that define route
// identity. Stop order is preserved; coordinates are rounded to 1e-6; the
// stop type defaults to "poi" and the profile to "drive". Preferences and
// departure time are deliberately excluded so they never split the cache.
func NormalizeRoute(req model.NavRequest) (map[string]any, error) {
	if len(req.Stops) < 2 {
		return nil, apperr.BadRequest("route needs at least two stops")
	}
	profile := req.Profile
	if profile == "" {
		profile = "drive"
	}
	stops := make([]map[string]any, 0, len(req.Stops))
	for _, s := range req.Stops {
		st := s.Type
		if st == "" {
			st = model.StopPOI
		}
		stops = append(stops, map[string]any{
			"lat":  Round6(s.Lat),
			"lng":  Round6(s.Lng),
			"type": string(st),
		})
	}
	norm := map[string]any{
		"profile": profile,
		"stops":   stops,
	}
	if len(req.Avoid) > 0 {
		avoid := append([]string(nil), req.Avoid...)
		sort.Strings(avoid)
		norm["avoid"] = avoid
	}
	return norm, nil
}

// RouteKey derives the content key for a nav request and returns the
// normalized request alongside it for echoing into the stored pack.
func RouteKey(algoVersion string, req model.NavRequest) (string, map[string]any, error) {
	norm, err := NormalizeRoute(req)
	if err != nil {
		return "", nil, err
	}
	key, err := ContentKey(map[string]any{
		"algo_version": algoVersion,
		"req":          norm,
	})
	if err != nil {
		return "", nil, err
	}
	return key, norm, nil
}

// CorridorKey identifies a corridor graph cut from a cached route.
func CorridorKey(algoVersion, routeKey, profile string, bufferM float64, maxEdges int) (string, error) {
	return ContentKey(map[string]any{
		"algo_version": algoVersion,
		"route_key":    routeKey,
		"profile":      profile,
		"buffer_m":     bufferM,
		"max_edges":    maxEdges,
	})
}

// NormalizePlaces reduces a place query to its identity fields. Exactly one
// of bbox, center+radius, or free-text query must be present.
func NormalizePlaces(q model.PlacesQuery) (map[string]any, error) {
	norm := map[string]any{}
	switch {
	case q.BBox != nil:
		b := *q.BBox
		norm["bbox"] = []float64{Round6(b[0]), Round6(b[1]), Round6(b[2]), Round6(b[3])}
	case q.Center != nil && q.RadiusM > 0:
		norm["center"] = map[string]any{"lat": Round6(q.Center.Lat), "lng": Round6(q.Center.Lng)}
		norm["radius_m"] = q.RadiusM
	case strings.TrimSpace(q.Query) != "":
	default:
		return nil, apperr.BadRequest("place query needs a bbox, a center with radius, or text")
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		norm["query"] = strings.ToLower(s)
	}
	if cats := model.CleanCategories(q.Categories); len(cats) > 0 {
		cs := make([]string, len(cats))
		for i, c := range cats {
			cs[i] = string(c)
		}
		sort.Strings(cs)
		norm["categories"] = cs
	}
	if q.Limit > 0 {
		norm["limit"] = q.Limit
	}
	return norm, nil
}

// PlacesKey derives the content key for a place query.
func PlacesKey(algoVersion string, q model.PlacesQuery) (string, map[string]any, error) {
	norm, err := NormalizePlaces(q)
	if err != nil {
		return "", nil, err
	}
	payload := map[string]any{"algo_version": algoVersion}
	for k, v := range norm {
		payload[k] = v
	}
	key, err := ContentKey(payload)
	if err != nil {
		return "", nil, err
	}
	return key, norm, nil
}

// CorridorPlacesKey identifies a place search swept along a route geometry.
// The polyline itself can be tens of kilobytes, so its SHA-256 hex stands in
// for it inside the payload.
func CorridorPlacesKey(algoVersion, polyline6 string, bufferKM float64, categories []string, limit int) (string, map[string]any, error) {
	sum := sha256.Sum256([]byte(polyline6))
	cats := model.CleanCategories(categories)
	cs := make([]string, len(cats))
	for i, c := range cats {
		cs[i] = string(c)
	}
	sort.Strings(cs)
	payload := map[string]any{
		"algo_version": algoVersion,
		"poly_sha256":  hex.EncodeToString(sum[:]),
		"buffer_km":    bufferKM,
		"categories":   cs,
		"limit":        limit,
	}
	key, err := ContentKey(payload)
	if err != nil {
		return "", nil, err
	}
	return key, payload, nil
}

// OverlayKey identifies a traffic or hazards poll over a bbox and a set of
// states. Traffic and hazards use distinct algo versions, so their keyspaces
// never collide.
func OverlayKey(algoVersion string, bbox model.BBox, states []string) (string, error) {
	ss := append([]string(nil), states...)
	sort.Strings(ss)
	return ContentKey(map[string]any{
		"algo_version": algoVersion,
		"bbox":         []float64{Round6(bbox[0]), Round6(bbox[1]), Round6(bbox[2]), Round6(bbox[3])},
		"states":       ss,
	})
}

// OverlayKeyFiltered is OverlayKey with a source filter folded in, so a
// filtered poll never poisons the unfiltered pack. An empty filter yields
// the same key as OverlayKey.
func OverlayKeyFiltered(algoVersion string, bbox model.BBox, states, sources []string) (string, error) {
	if len(sources) == 0 {
		return OverlayKey(algoVersion, bbox, states)
	}
	ss := append([]string(nil), states...)
	sort.Strings(ss)
	src := append([]string(nil), sources...)
	sort.Strings(src)
	return ContentKey(map[string]any{
		"algo_version": algoVersion,
		"bbox":         []float64{Round6(bbox[0]), Round6(bbox[1]), Round6(bbox[2]), Round6(bbox[3])},
		"states":       ss,
		"sources":      src,
	})
}
