// Package geocode wraps Mapbox Geocoding v5 forward search for free-text
// place lookup. Corridor POIs keep flowing through the Overpass pipeline;
// this path exists for "search a place by name" queries only.
package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
)

// defaultTypes is the Mapbox place_type filter. Country and postcode are
// left out: neither is what a user typing "servo near Toowoomba" wants.
const defaultTypes = "poi,poi.landmark,address,place,locality,neighborhood,district,region"

// mapboxCatMap translates Mapbox's comma-separated POI category tokens
// into the closed category vocabulary.
var mapboxCatMap = map[string]model.Category{
	"gas station":        model.CatFuel,
	"fuel":               model.CatFuel,
	"petrol":             model.CatFuel,
	"petrol station":     model.CatFuel,
	"restaurant":         model.CatRestaurant,
	"cafe":               model.CatCafe,
	"coffee":             model.CatCafe,
	"coffee shop":        model.CatCafe,
	"fast food":          model.CatFastFood,
	"bar":                model.CatBar,
	"pub":                model.CatPub,
	"hotel":              model.CatHotel,
	"motel":              model.CatMotel,
	"hostel":             model.CatHostel,
	"lodging":            model.CatHotel,
	"campground":         model.CatCamp,
	"camping":            model.CatCamp,
	"park":               model.CatPark,
	"beach":              model.CatBeach,
	"hospital":           model.CatHospital,
	"pharmacy":           model.CatPharmacy,
	"mechanic":           model.CatMechanic,
	"auto repair":        model.CatMechanic,
	"grocery":            model.CatGrocery,
	"supermarket":        model.CatGrocery,
	"viewpoint":          model.CatViewpoint,
	"attraction":         model.CatAttraction,
	"tourist attraction": model.CatAttraction,
	"museum":             model.CatAttraction,
	"toilet":             model.CatToilet,
	"rest area":          model.CatToilet,
}

type Service struct {
	cfg         config.MapboxCfg
	algoVersion string
	http        *http.Client
	log         zerolog.Logger
}

func New(cfg config.MapboxCfg, algoVersion string, hc *http.Client, log zerolog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		algoVersion: algoVersion,
		http:        hc,
		log:         log.With().Str("component", "geocode").Logger(),
	}
}

// Enabled reports whether a Mapbox token is configured.
func (s *Service) Enabled() bool { return s.cfg.Token != "" }

type Request struct {
	Query     string        `json:"query"`
	Proximity *model.LatLng `json:"proximity,omitempty"`
	BBox      *model.BBox   `json:"bbox,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// packKey derives the deterministic cache identity for one geocode request:
// hex sha256 over the canonical request seed, truncated to 24 characters.
func (s *Service) packKey(query string, proximity *model.LatLng, limit int) string {
	seed := map[string]any{
		"type":  "mapbox_geocode",
		"query": strings.ToLower(strings.TrimSpace(query)),
		"limit": limit,
		"algo":  s.algoVersion,
	}
	if proximity != nil {
		seed["proximity"] = []float64{proximity.Lat, proximity.Lng}
	} else {
		seed["proximity"] = nil
	}
	canonical, _ := keying.CanonicalJSON(seed)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:24]
}

// Forward geocodes a free-text query into a places pack. The pack is not
// persisted: name lookups are interactive and cheap to repeat, unlike the
// tiled corridor reads.
func (s *Service) Forward(ctx context.Context, req Request) (*model.PlacesPack, error) {
	if !s.Enabled() {
		return nil, apperr.Unavailable("geocoding disabled: MAPBOX_TOKEN not set")
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return &model.PlacesPack{
			PlacesKey:   "empty",
			Req:         map[string]any{"query": ""},
			Items:       []model.PlaceItem{},
			Provider:    "mapbox_geocoding_v5",
			CreatedAt:   time.Now().UTC(),
			AlgoVersion: s.algoVersion,
		}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 10 {
		// Mapbox hard-caps at 10.
		limit = 10
	}

	params := url.Values{
		"access_token": {s.cfg.Token},
		"autocomplete": {"true"},
		"language":     {"en"},
		"limit":        {strconv.Itoa(limit)},
		"types":        {defaultTypes},
	}
	if s.cfg.Country != "" {
		params.Set("country", s.cfg.Country)
	}
	if req.Proximity != nil {
		// Mapbox expects "lng,lat" on the wire.
		params.Set("proximity", fmt.Sprintf("%g,%g", req.Proximity.Lng, req.Proximity.Lat))
	}
	if req.BBox != nil && !req.BBox.IsZero() {
		params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g",
			req.BBox.MinLng(), req.BBox.MinLat(), req.BBox.MaxLng(), req.BBox.MaxLat()))
	}

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/" + url.PathEscape(query) + ".json?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	start := time.Now()
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Unavailablef("mapbox geocoding unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.Unavailablef("mapbox geocoding read", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Error().Int("status", resp.StatusCode).Str("query", query).Msg("mapbox geocode failed")
		return nil, apperr.Unavailable(fmt.Sprintf("mapbox geocoding: http %d", resp.StatusCode))
	}

	items := make([]model.PlaceItem, 0, limit)
	for _, feat := range gjson.GetBytes(body, "features").Array() {
		if item, ok := featureToItem(feat); ok {
			items = append(items, item)
		}
	}

	key := s.packKey(query, req.Proximity, limit)
	logger.FromContext(ctx, &s.log).Info().
		Str("query", query).
		Int("results", len(items)).
		Str("places_key", key).
		Dur("elapsed", time.Since(start)).
		Msg("mapbox geocode")

	reqEcho := map[string]any{"query": query, "limit": limit}
	if req.Proximity != nil {
		reqEcho["center"] = map[string]any{"lat": req.Proximity.Lat, "lng": req.Proximity.Lng}
	}
	return &model.PlacesPack{
		PlacesKey:   key,
		Req:         reqEcho,
		Items:       items,
		Provider:    "mapbox_geocoding_v5",
		CreatedAt:   time.Now().UTC(),
		AlgoVersion: s.algoVersion,
	}, nil
}

// classify maps one feature to the closed vocabulary: structured category
// tokens first, then the place_type ladder, then the generic fallback.
func classify(feat gjson.Result) model.Category {
	raw := strings.ToLower(feat.Get("properties.category").String())
	for _, token := range strings.Split(raw, ",") {
		if cat, ok := mapboxCatMap[strings.TrimSpace(token)]; ok {
			return cat
		}
	}

	types := make(map[string]bool, 4)
	for _, pt := range feat.Get("place_type").Array() {
		types[pt.String()] = true
	}
	switch {
	case types["poi.landmark"] || types["poi"]:
		return model.CatAttraction
	case types["address"]:
		return model.CatAddress
	case types["place"] || types["locality"] || types["neighborhood"]:
		return model.CatTown
	case types["region"] || types["district"]:
		return model.CatRegion
	}
	return model.CatPlace
}

func featureToItem(feat gjson.Result) (model.PlaceItem, bool) {
	center := feat.Get("center").Array()
	if len(center) < 2 {
		return model.PlaceItem{}, false
	}
	lng, lat := center[0].Float(), center[1].Float()

	mapboxID := feat.Get("id").String()
	name := feat.Get("text").String()
	placeName := feat.Get("place_name").String()
	if name == "" {
		name = placeName
	}

	// Short address from the context chain: suburb, city, state.
	var parts []string
	for _, ctx := range feat.Get("context").Array() {
		if t := ctx.Get("text").String(); t != "" {
			parts = append(parts, t)
		}
		if len(parts) == 3 {
			break
		}
	}

	placeTypes := make([]string, 0, 2)
	for _, pt := range feat.Get("place_type").Array() {
		placeTypes = append(placeTypes, pt.String())
	}

	return model.PlaceItem{
		ID:       "mapbox:" + mapboxID,
		Name:     name,
		Lat:      lat,
		Lng:      lng,
		Category: classify(feat),
		Extra: map[string]any{
			"source":          "mapbox_geocoding",
			"mapbox_id":       mapboxID,
			"place_name":      placeName,
			"address":         strings.Join(parts, ", "),
			"mapbox_category": feat.Get("properties.category").String(),
			"place_type":      placeTypes,
			"relevance":       feat.Get("relevance").Float(),
		},
	}, true
}
