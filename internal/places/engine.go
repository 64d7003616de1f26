// Package places resolves POI queries through a tiered read path:
// deterministic pack cache, local canonical SQLite table, shared remote
// pool, then Overpass top-up bounded by a time budget. Discoveries flow
// back into both stores, so repeat trips along the same highways stop
// paying for Overpass at all.
package places

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
	"github.com/roamtrip/roampack/internal/store/hotcache"
)

type Service struct {
	store *store.Store
	hot   *hotcache.Cache
	over  *OverpassClient
	supa  *SupaRepo

	algoVersion    string
	tileStep       float64
	maxTiles       int
	hardCap        int
	satisfyRatio   float64
	tileTTL        time.Duration
	timeBudget     time.Duration
	maxTilesPerReq int
	publishCap     int

	log zerolog.Logger
}

func New(st *store.Store, hot *hotcache.Cache, over *OverpassClient, supa *SupaRepo, cfg config.Config, log zerolog.Logger) *Service {
	pc := cfg.Places
	if pc.TileStepDeg <= 0 {
		pc.TileStepDeg = 0.15
	}
	if pc.MaxTiles < 1 {
		pc.MaxTiles = 64
	}
	if pc.HardCap < 1 {
		pc.HardCap = 12000
	}
	if pc.LocalSatisfyRatio <= 0 || pc.LocalSatisfyRatio > 1 {
		pc.LocalSatisfyRatio = 0.70
	}
	if pc.TileTTL <= 0 {
		pc.TileTTL = 14 * 24 * time.Hour
	}
	if pc.TimeBudget <= 0 {
		pc.TimeBudget = 10 * time.Second
	}
	if pc.MaxTilesPerRequest < 1 {
		pc.MaxTilesPerRequest = 12
	}
	algo := cfg.PlacesAlgoVersion
	if algo == "" {
		algo = "places.v1.overpass.tiled"
	}
	return &Service{
		store:          st,
		hot:            hot,
		over:           over,
		supa:           supa,
		algoVersion:    algo,
		tileStep:       pc.TileStepDeg,
		maxTiles:       pc.MaxTiles,
		hardCap:        pc.HardCap,
		satisfyRatio:   pc.LocalSatisfyRatio,
		tileTTL:        pc.TileTTL,
		timeBudget:     pc.TimeBudget,
		maxTilesPerReq: pc.MaxTilesPerRequest,
		publishCap:     pc.PublishCap,
		log:            log.With().Str("component", "places").Logger(),
	}
}

// bboxFromQuery resolves the query's search window: an explicit bbox, or
// a degree window around center+radius. Text-only queries have none.
func bboxFromQuery(q model.PlacesQuery) (model.BBox, bool) {
	if q.BBox != nil {
		return *q.BBox, true
	}
	if q.Center != nil && q.RadiusM > 0 {
		dlat := q.RadiusM / 111320.0
		cosv := math.Cos(q.Center.Lat * math.Pi / 180)
		if cosv < 0.2 {
			cosv = 0.2
		}
		dlng := q.RadiusM / (111320.0 * cosv)
		return model.NewBBox(q.Center.Lng-dlng, q.Center.Lat-dlat, q.Center.Lng+dlng, q.Center.Lat+dlat), true
	}
	return model.BBox{}, false
}

func catStrings(cats []model.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func (s *Service) newPack(key string, req map[string]any, items []model.PlaceItem, provider string) *model.PlacesPack {
	if items == nil {
		items = []model.PlaceItem{}
	}
	return &model.PlacesPack{
		PlacesKey:   key,
		Req:         req,
		Items:       items,
		Provider:    provider,
		CreatedAt:   time.Now().UTC(),
		AlgoVersion: s.algoVersion,
	}
}

// readPack checks the hot tier then the pack store. A store hit warms the
// hot tier on the way out.
func (s *Service) readPack(ctx context.Context, key string) *model.PlacesPack {
	if raw := s.hot.Get(ctx, "places", key); raw != nil {
		var pack model.PlacesPack
		if err := json.Unmarshal(raw, &pack); err == nil {
			observability.IncCacheHit("places")
			return &pack
		}
	}
	stored, err := s.store.GetPlacesPack(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("places_key", key).Msg("places pack read failed")
		return nil
	}
	if stored == nil {
		observability.IncCacheMiss("places")
		return nil
	}
	var pack model.PlacesPack
	if err := json.Unmarshal(stored.JSON, &pack); err != nil {
		s.log.Warn().Err(err).Str("places_key", key).Msg("stored places pack is corrupt")
		return nil
	}
	observability.IncCacheHit("places")
	s.hot.Put(ctx, "places", key, stored.JSON)
	return &pack
}

func (s *Service) capped(items []model.PlaceItem) []model.PlaceItem {
	if s.publishCap > 0 && len(items) > s.publishCap {
		return items[:s.publishCap]
	}
	return items
}

func (s *Service) publishBestEffort(ctx context.Context, items []model.PlaceItem, source string) int {
	if s.supa == nil || len(items) == 0 {
		return 0
	}
	n, err := s.supa.UpsertItems(ctx, items, source)
	if err != nil {
		s.log.Warn().Err(err).Str("source", source).Msg("pool publish failed")
		return 0
	}
	return n
}

func (s *Service) ingestBestEffort(ctx context.Context, items []model.PlaceItem) {
	if len(items) == 0 {
		return
	}
	if _, err := s.store.UpsertPlaces(ctx, items); err != nil {
		s.log.Warn().Err(err).Msg("local ingest failed")
	}
}

// onCachedPack re-publishes packs written before the pool existed so old
// cache entries still feed it.
func (s *Service) onCachedPack(ctx context.Context, pack *model.PlacesPack) {
	if s.supa == nil || len(pack.Items) == 0 || strings.Contains(pack.Provider, "supa") {
		return
	}
	s.publishBestEffort(ctx, s.capped(pack.Items), "cached_pack")
}

// finalize is the single exit point for assembled packs: optional pool
// backfill, then the pack cache write that makes the key deterministic
// from here on.
func (s *Service) finalize(ctx context.Context, pack *model.PlacesPack, publishToPool bool) (*model.PlacesPack, error) {
	if publishToPool && s.supa != nil && len(pack.Items) > 0 {
		s.publishBestEffort(ctx, s.capped(pack.Items), "pack")
	}
	body, err := json.Marshal(pack)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutPlacesPack(ctx, pack.PlacesKey, body); err != nil {
		return nil, err
	}
	s.hot.Put(ctx, "places", pack.PlacesKey, body)
	return pack, nil
}

// Search resolves a bbox, center+radius, or text query into a PlacesPack.
// The local tier alone answers when it covers satisfyRatio of the limit;
// otherwise the pool and then stale tiles top the result up.
func (s *Service) Search(ctx context.Context, q model.PlacesQuery) (*model.PlacesPack, error) {
	key, norm, err := keying.PlacesKey(s.algoVersion, q)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, &s.log)

	if pack := s.readPack(ctx, key); pack != nil {
		s.onCachedPack(ctx, pack)
		return pack, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	limit = max(1, min(limit, s.hardCap))
	cats := model.CleanCategories(q.Categories)
	needCount := max(1, int(float64(limit)*s.satisfyRatio))

	bbox, hasWindow := bboxFromQuery(q)
	if !hasWindow {
		// Text-only lookups serve from the canonical table; there is no
		// region to fetch upstream.
		found, err := s.store.SearchPlacesByName(ctx, q.Query, cats, limit)
		if err != nil {
			log.Warn().Err(err).Msg("name search failed")
			found = nil
		}
		pack := s.newPack(key, norm, found, "local")
		return s.finalize(ctx, pack, len(found) > 0)
	}

	var items []model.PlaceItem
	seen := make(map[string]bool)
	add := func(batch []model.PlaceItem) {
		for _, it := range batch {
			if len(items) >= limit {
				return
			}
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			items = append(items, it)
		}
	}

	local, err := s.store.QueryPlacesBBox(ctx, bbox, cats, limit)
	if err != nil {
		log.Warn().Err(err).Msg("local places query failed")
	}
	add(local)
	if len(items) >= needCount {
		observability.IncCacheHit("local")
		pack := s.newPack(key, norm, items, "local")
		return s.finalize(ctx, pack, true)
	}
	observability.IncCacheMiss("local")

	provider := "local"
	if s.supa != nil {
		supaItems, err := s.supa.QueryBBox(ctx, bbox, cats, limit)
		if err != nil {
			log.Warn().Err(err).Msg("pool query failed")
		} else if len(supaItems) > 0 {
			observability.IncCacheHit("remote")
			s.ingestBestEffort(ctx, supaItems)
			add(supaItems)
			provider = "local+supa"
		} else {
			observability.IncCacheMiss("remote")
		}
	}
	if len(items) >= needCount {
		pack := s.newPack(key, norm, items, provider)
		return s.finalize(ctx, pack, !strings.Contains(provider, "supa"))
	}

	filters := filtersForCategories(cats)
	nameClause := nameClauseFor(q.Query)
	if len(filters) == 0 && nameClause == "" {
		pack := s.newPack(key, norm, items, provider)
		return s.finalize(ctx, pack, !strings.Contains(provider, "supa"))
	}

	items, usedOverpass, published := s.tiledTopUp(ctx, log, bbox, cats, filters, nameClause, limit, items, seen)
	if usedOverpass {
		if provider == "local+supa" {
			provider = "local+supa+overpass"
		} else {
			provider = "local+overpass"
		}
		if published > 0 && !strings.Contains(provider, "supa") {
			provider = strings.Replace(provider, "local", "local+supa", 1)
		}
	}

	log.Info().
		Str("places_key", key).
		Str("provider", provider).
		Int("items", len(items)).
		Msg("places search assembled")

	pack := s.newPack(key, norm, items, provider)
	return s.finalize(ctx, pack, true)
}

// tiledTopUp walks stale tiles over the bbox, appending fresh Overpass
// discoveries until the limit, the wall-clock budget, or the per-request
// tile cap stops it. The budget is only honoured after at least one tile
// so a cold region always makes some progress.
func (s *Service) tiledTopUp(
	ctx context.Context,
	log *zerolog.Logger,
	bbox model.BBox,
	cats []model.Category,
	filters []string,
	nameClause string,
	limit int,
	items []model.PlaceItem,
	seen map[string]bool,
) ([]model.PlaceItem, bool, int) {
	if s.over == nil {
		return items, false, 0
	}
	tiles := tilesForBBox(bbox, s.tileStep, s.maxTiles)
	started := time.Now()
	fetched := 0
	used := false
	published := 0

	for _, tile := range tiles {
		if len(items) >= limit {
			break
		}
		if fetched > 0 && time.Since(started) >= s.timeBudget {
			observability.IncPlacesTile("budget")
			break
		}
		fresh, err := s.store.TileFresh(ctx, tile.Key, cats, s.tileTTL)
		if err != nil {
			log.Warn().Err(err).Str("tile", tile.Key).Msg("tile ledger read failed")
		}
		if fresh {
			observability.IncPlacesTile("fresh")
			continue
		}

		els, err := s.over.Query(ctx, s.over.BBoxQL(tile.BBox, filters, nameClause))
		if err != nil {
			observability.IncPlacesTile("failed")
			log.Warn().Err(err).Str("tile", tile.Key).Msg("tile fetch failed")
			break
		}

		var found []model.PlaceItem
		for _, el := range els {
			if it, ok := elementToItem(el); ok {
				found = append(found, it)
			}
		}
		if len(found) > 0 {
			used = true
			s.ingestBestEffort(ctx, found)
			published += s.publishBestEffort(ctx, found, "overpass")
		}
		// Mark even empty tiles: knowing a cell has nothing is as valuable
		// as knowing what it has.
		if err := s.store.MarkTileFetched(ctx, tile.Key, tile.BBox, cats, len(found)); err != nil {
			log.Warn().Err(err).Str("tile", tile.Key).Msg("tile ledger write failed")
		}
		observability.IncPlacesTile("fetched")

		for _, it := range found {
			if len(items) >= limit {
				break
			}
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			items = append(items, it)
		}

		fetched++
		if fetched >= s.maxTilesPerReq {
			observability.IncPlacesTile("capped")
			break
		}
	}
	return items, used, published
}

// SearchCorridor returns places inside a true buffer around the route
// geometry. The external around-query runs first: on long routes a
// bbox-first read is destination-biased, because a rectangle over a
// 1000 km route mostly covers country nowhere near the road. Local and
// pool tiers then supplement, filtered by distance to the route samples.
func (s *Service) SearchCorridor(ctx context.Context, polyline6 string, bufferKM float64, categories []string, limit int, sampleIntervalKM float64) (*model.PlacesPack, error) {
	if bufferKM <= 0 {
		bufferKM = 15
	}
	if sampleIntervalKM <= 0 {
		sampleIntervalKM = 8
	}
	if limit <= 0 {
		limit = 8000
	}
	limit = max(1, min(limit, s.hardCap))
	cats := model.CleanCategories(categories)

	key, _, err := keying.CorridorPlacesKey(s.algoVersion, polyline6, bufferKM, categories, limit)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, &s.log)

	if pack := s.readPack(ctx, key); pack != nil {
		s.onCachedPack(ctx, pack)
		return pack, nil
	}

	samples := samplePolyline(keying.Polyline6Decode(polyline6), sampleIntervalKM)
	if len(samples) == 0 {
		req := map[string]any{
			"bbox":       []float64{0, 0, 0, 0},
			"categories": catStrings(cats),
			"limit":      limit,
		}
		pack := s.newPack(key, req, nil, "corridor_empty")
		return s.finalize(ctx, pack, false)
	}

	bufferM := bufferKM * 1000
	corridorBBox := bboxAroundPoints(samples, bufferKM)

	var items []model.PlaceItem
	seen := make(map[string]bool)
	accept := func(it model.PlaceItem) bool {
		if seen[it.ID] {
			return false
		}
		return minDistanceToSamplesM(it.Lat, it.Lng, samples) <= bufferM
	}

	overpassContributed := false
	filters := filtersForCategories(cats)
	if s.over != nil && (len(filters) > 0 || len(cats) > 0) {
		els, err := s.over.Query(ctx, s.over.AroundQL(samples, bufferM, filters, ""))
		if err != nil {
			log.Warn().Err(err).Msg("corridor around query failed")
		} else {
			var found []model.PlaceItem
			for _, el := range els {
				if it, ok := elementToItem(el); ok {
					found = append(found, it)
				}
			}
			if len(found) > 0 {
				overpassContributed = true
				s.ingestBestEffort(ctx, found)
				s.publishBestEffort(ctx, found, "overpass_corridor")
				// Already corridor-filtered upstream by the around radius.
				for _, it := range found {
					if len(items) >= limit {
						break
					}
					if seen[it.ID] {
						continue
					}
					seen[it.ID] = true
					items = append(items, it)
				}
			}
		}
	}

	local, err := s.store.QueryPlacesBBox(ctx, corridorBBox, cats, limit*2)
	if err != nil {
		log.Warn().Err(err).Msg("corridor local query failed")
	}
	for _, it := range local {
		if len(items) >= limit {
			break
		}
		if accept(it) {
			seen[it.ID] = true
			items = append(items, it)
		}
	}

	supaContributed := false
	if s.supa != nil && len(items) < limit {
		supaItems, err := s.supa.QueryBBox(ctx, corridorBBox, cats, limit*2)
		if err != nil {
			log.Warn().Err(err).Msg("corridor pool query failed")
		} else if len(supaItems) > 0 {
			supaContributed = true
			s.ingestBestEffort(ctx, supaItems)
			for _, it := range supaItems {
				if len(items) >= limit {
					break
				}
				if accept(it) {
					seen[it.ID] = true
					items = append(items, it)
				}
			}
		}
	}

	provider := "corridor"
	if supaContributed {
		provider += "+supa"
	}
	if overpassContributed {
		provider += "+overpass"
	}

	log.Info().
		Str("places_key", key).
		Str("provider", provider).
		Int("samples", len(samples)).
		Int("items", len(items)).
		Msg("corridor places assembled")

	req := map[string]any{
		"bbox":       []float64{corridorBBox[0], corridorBBox[1], corridorBBox[2], corridorBBox[3]},
		"categories": catStrings(cats),
		"limit":      limit,
	}
	pack := s.newPack(key, req, items, provider)
	return s.finalize(ctx, pack, true)
}

// Suggestion pairs one route sample with its nearby places.
type Suggestion struct {
	Idx         int               `json:"idx"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	KMFromStart float64           `json:"km_from_start"`
	Places      *model.PlacesPack `json:"places"`
}

// SuggestAlongRoute runs an independent point+radius search at every
// interval sample. Each sub-search takes the full tiered path, so repeat
// calls on a popular route resolve from pack cache alone.
func (s *Service) SuggestAlongRoute(ctx context.Context, polyline6 string, intervalKM, radiusM int, categories []string, limitPerSample int) ([]Suggestion, error) {
	samples := sampleRoutePoints(keying.Polyline6Decode(polyline6), intervalKM)
	out := make([]Suggestion, 0, len(samples))
	for _, sm := range samples {
		pack, err := s.Search(ctx, model.PlacesQuery{
			Center:     &model.LatLng{Lat: sm.Lat, Lng: sm.Lng},
			RadiusM:    float64(radiusM),
			Categories: categories,
			Limit:      limitPerSample,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, Suggestion{
			Idx:         sm.Idx,
			Lat:         sm.Lat,
			Lng:         sm.Lng,
			KMFromStart: sm.KMFromStart,
			Places:      pack,
		})
	}
	return out, nil
}
