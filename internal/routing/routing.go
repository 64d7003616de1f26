// Package routing wraps the external OSRM instance. Requests are normalized
// and content-keyed before any network call, so identical itineraries share
// one immutable nav pack; a small in-process memo absorbs request bursts.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/httpclient"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
	"github.com/roamtrip/roampack/internal/store/hotcache"
)

const (
	memoSize         = 256
	maxResponseBytes = 32 << 20
	errBodyMax       = 500
)

type Service struct {
	store       *store.Store
	hot         *hotcache.Cache
	http        *http.Client
	baseURL     string
	osrmProfile string
	algoVersion string
	memo        *lru.Cache[uint64, *model.NavRoute]
	log         zerolog.Logger
}

func New(st *store.Store, hot *hotcache.Cache, hc *http.Client, cfg config.Config, log zerolog.Logger) *Service {
	timeout := cfg.OSRM.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if hc == nil {
		hc = httpclient.NewOutbound(timeout)
	}
	profile := cfg.OSRM.Profile
	if profile == "" {
		profile = "driving"
	}
	algo := cfg.AlgoVersion
	if algo == "" {
		algo = "navpack.v1.osrm.mld"
	}
	memo, _ := lru.New[uint64, *model.NavRoute](memoSize)
	return &Service{
		store:       st,
		hot:         hot,
		http:        hc,
		baseURL:     strings.TrimRight(cfg.OSRM.URL, "/"),
		osrmProfile: profile,
		algoVersion: algo,
		memo:        memo,
		log:         log.With().Str("component", "routing").Logger(),
	}
}

// Route returns the nav route for a request, calling OSRM only when no
// cached pack exists. The same normalized request always yields the same
// route_key, so repeat calls are pure cache reads.
func (s *Service) Route(ctx context.Context, req model.NavRequest) (*model.NavRoute, error) {
	norm, err := keying.NormalizeRoute(req)
	if err != nil {
		return nil, err
	}
	canon, err := keying.CanonicalJSON(map[string]any{
		"algo_version": s.algoVersion,
		"req":          norm,
	})
	if err != nil {
		return nil, err
	}
	key := keying.ContentHash(canon)
	memoKey := xxhash.Sum64(canon)
	log := logger.FromContext(ctx, &s.log).With().Str("route_key", key).Logger()

	if route, ok := s.memo.Get(memoKey); ok {
		observability.IncCacheHit("local")
		return route, nil
	}
	if raw := s.hot.Get(ctx, "nav", key); raw != nil {
		var route model.NavRoute
		if err := json.Unmarshal(raw, &route); err == nil {
			s.memo.Add(memoKey, &route)
			return &route, nil
		}
	}
	if stored, err := s.store.GetNavPack(ctx, key); err != nil {
		return nil, err
	} else if stored != nil {
		var route model.NavRoute
		if err := json.Unmarshal(stored.JSON, &route); err != nil {
			return nil, fmt.Errorf("routing: decode stored pack %s: %w", key, err)
		}
		observability.IncCacheHit("pack")
		s.hot.Put(ctx, "nav", key, stored.JSON)
		s.memo.Add(memoKey, &route)
		return &route, nil
	}
	observability.IncCacheMiss("pack")

	best, err := s.fetchRoute(ctx, req.Stops)
	if err != nil {
		return nil, err
	}
	route := buildRoute(key, s.algoVersion, req, best)

	body, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("routing: encode pack: %w", err)
	}
	if err := s.store.PutNavPack(ctx, key, body); err != nil {
		return nil, err
	}
	s.hot.Put(ctx, "nav", key, body)
	s.memo.Add(memoKey, route)
	log.Info().
		Float64("distance_m", route.DistanceM).
		Float64("duration_s", route.DurationS).
		Int("legs", len(route.Legs)).
		Msg("route built")
	return route, nil
}

type osrmResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Geometry osrmGeometry `json:"geometry"`
	Legs     []osrmLeg    `json:"legs"`
}

type osrmGeometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type osrmLeg struct {
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
	Steps    []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Name     string       `json:"name"`
	Geometry osrmGeometry `json:"geometry"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type          string    `json:"type"`
	Modifier      string    `json:"modifier"`
	Location      []float64 `json:"location"`
	BearingBefore float64   `json:"bearing_before"`
	BearingAfter  float64   `json:"bearing_after"`
	Exit          *int      `json:"exit"`
}

// fetchRoute submits the waypoint list to OSRM in (lng,lat) order and returns
// the best route. Every failure mode is service_unavailable: the client can
// retry, nothing about the request itself is wrong.
func (s *Service) fetchRoute(ctx context.Context, stops []model.Stop) (*osrmRoute, error) {
	var coords strings.Builder
	for i, st := range stops {
		if i > 0 {
			coords.WriteByte(';')
		}
		coords.WriteString(strconv.FormatFloat(st.Lng, 'f', 6, 64))
		coords.WriteByte(',')
		coords.WriteString(strconv.FormatFloat(st.Lat, 'f', 6, 64))
	}
	url := s.baseURL + "/route/v1/" + s.osrmProfile + "/" + coords.String() +
		"?overview=full&geometries=geojson&steps=true&alternatives=false&annotations=false"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("routing: build request: %w", err)
	}
	req.Header.Set("User-Agent", "roampack/routing")

	started := time.Now()
	resp, err := s.http.Do(req)
	observability.ObserveUpstreamLatency("osrm", time.Since(started).Seconds())
	if err != nil {
		return nil, apperr.Unavailablef("OSRM request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Unavailablef("OSRM response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > errBodyMax {
			snippet = snippet[:errBodyMax]
		}
		return nil, apperr.Unavailable(fmt.Sprintf("OSRM returned %d: %s", resp.StatusCode, snippet))
	}

	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Unavailablef("OSRM response decode failed", err)
	}
	if len(out.Routes) == 0 {
		return nil, apperr.Unavailable("OSRM returned no routes")
	}
	best := &out.Routes[0]
	if best.Geometry.Type != "LineString" {
		return nil, apperr.Unavailable("OSRM returned unexpected geometry format")
	}
	return best, nil
}

func buildRoute(key, algoVersion string, req model.NavRequest, best *osrmRoute) *model.NavRoute {
	pts := lineCoords(best.Geometry.Coordinates)
	profile := req.Profile
	if profile == "" {
		profile = "drive"
	}
	route := &model.NavRoute{
		RouteKey:    key,
		Profile:     profile,
		DistanceM:   math.Round(best.Distance),
		DurationS:   math.Round(best.Duration),
		Geometry:    keying.Polyline6Encode(pts),
		BBox:        bboxOf(pts),
		Legs:        make([]model.NavLeg, 0, len(best.Legs)),
		Provider:    "osrm",
		CreatedAt:   time.Now().UTC(),
		AlgoVersion: algoVersion,
	}
	for _, leg := range best.Legs {
		route.Legs = append(route.Legs, buildLeg(leg))
	}
	return route
}

// buildLeg rebuilds the leg geometry from its step geometries. Consecutive
// steps share a junction coordinate, so every step after the first drops its
// lead point before concatenation.
func buildLeg(leg osrmLeg) model.NavLeg {
	var pts []model.LatLng
	steps := make([]model.NavStep, 0, len(leg.Steps))
	for i, st := range leg.Steps {
		stepPts := lineCoords(st.Geometry.Coordinates)
		steps = append(steps, model.NavStep{
			Maneuver:  normalizeManeuver(st.Maneuver),
			Name:      st.Name,
			DistanceM: st.Distance,
			DurationS: st.Duration,
			Polyline6: keying.Polyline6Encode(stepPts),
		})
		if i > 0 && len(stepPts) > 0 {
			stepPts = stepPts[1:]
		}
		pts = append(pts, stepPts...)
	}
	return model.NavLeg{
		DistanceM: math.Round(leg.Distance),
		DurationS: math.Round(leg.Duration),
		Geometry:  keying.Polyline6Encode(pts),
		Steps:     steps,
	}
}

// OSRM v5 maneuver vocabulary. Types outside it coerce to "turn"; modifiers
// outside it become null.
var knownManeuverTypes = map[string]bool{
	"turn": true, "new name": true, "depart": true, "arrive": true,
	"merge": true, "ramp": true, "on ramp": true, "off ramp": true,
	"fork": true, "end of road": true, "use lane": true, "continue": true,
	"roundabout": true, "rotary": true, "roundabout turn": true,
	"notification": true, "exit roundabout": true, "exit rotary": true,
}

var knownModifiers = map[string]bool{
	"uturn": true, "sharp right": true, "right": true, "slight right": true,
	"straight": true, "slight left": true, "left": true, "sharp left": true,
}

func normalizeManeuver(m osrmManeuver) model.Maneuver {
	typ := m.Type
	if !knownManeuverTypes[typ] {
		typ = "turn"
	}
	var modifier *string
	if knownModifiers[m.Modifier] {
		mod := m.Modifier
		modifier = &mod
	}
	return model.Maneuver{
		Type:          typ,
		Modifier:      modifier,
		Location:      m.Location,
		BearingBefore: m.BearingBefore,
		BearingAfter:  m.BearingAfter,
		Exit:          m.Exit,
	}
}

func lineCoords(coords [][]float64) []model.LatLng {
	pts := make([]model.LatLng, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, model.LatLng{Lat: c[1], Lng: c[0]})
	}
	return pts
}

func bboxOf(pts []model.LatLng) model.BBox {
	if len(pts) == 0 {
		return model.BBox{}
	}
	b := model.NewBBox(pts[0].Lng, pts[0].Lat, pts[0].Lng, pts[0].Lat)
	for _, p := range pts[1:] {
		if p.Lng < b[0] {
			b[0] = p.Lng
		}
		if p.Lat < b[1] {
			b[1] = p.Lat
		}
		if p.Lng > b[2] {
			b[2] = p.Lng
		}
		if p.Lat > b[3] {
			b[3] = p.Lat
		}
	}
	return b
}
