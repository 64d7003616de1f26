// Package corridor cuts a buffered sub-graph of the road network around a
// route geometry and caches it as an immutable pack.
package corridor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/edges"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
	"github.com/roamtrip/roampack/internal/store/hotcache"
)

type Service struct {
	store       *store.Store
	hot         *hotcache.Cache
	edges       edges.Store
	algoVersion string
	log         zerolog.Logger
}

func New(st *store.Store, hot *hotcache.Cache, ed edges.Store, algoVersion string, log zerolog.Logger) *Service {
	return &Service{store: st, hot: hot, edges: ed, algoVersion: algoVersion, log: log}
}

// TightBBox is the axis-aligned box around a point sequence.
func TightBBox(pts []model.LatLng) (model.BBox, bool) {
	if len(pts) == 0 {
		return model.BBox{}, false
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
	return b, true
}

// ExpandBBox grows a box by bufferM meters using a latitude-aware degree
// conversion. cos(midLat) is floored at 0.2 to stay sane near the poles.
func ExpandBBox(b model.BBox, bufferM float64) model.BBox {
	dLat := bufferM / 111320.0
	midLat := (b.MinLat() + b.MaxLat()) / 2
	cosv := math.Cos(midLat * math.Pi / 180)
	if cosv < 0.2 {
		cosv = 0.2
	}
	dLng := bufferM / (111320.0 * cosv)
	return model.NewBBox(b.MinLng()-dLng, b.MinLat()-dLat, b.MaxLng()+dLng, b.MaxLat()+dLat)
}

// Ensure builds (or returns) the corridor pack for a cached route. Re-runs
// with the same parameters return the stored pack byte for byte.
func (s *Service) Ensure(ctx context.Context, routeKey, polyline6, profile string, bufferM float64, maxEdges int) (*model.CorridorGraphPack, error) {
	ckey, err := keying.CorridorKey(s.algoVersion, routeKey, profile, bufferM, maxEdges)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, &s.log).With().Str("corridor_key", ckey).Logger()

	if raw := s.hot.Get(ctx, "corridor", ckey); raw != nil {
		var pack model.CorridorGraphPack
		if err := json.Unmarshal(raw, &pack); err == nil {
			return &pack, nil
		}
	}
	if stored, err := s.store.GetCorridorPack(ctx, ckey); err != nil {
		return nil, err
	} else if stored != nil {
		var pack model.CorridorGraphPack
		if err := json.Unmarshal(stored.JSON, &pack); err != nil {
			return nil, fmt.Errorf("corridor: decode stored pack %s: %w", ckey, err)
		}
		observability.IncCacheHit("corridor")
		s.hot.Put(ctx, "corridor", ckey, stored.JSON)
		return &pack, nil
	}
	observability.IncCacheMiss("corridor")

	pack := &model.CorridorGraphPack{
		CorridorKey: ckey,
		RouteKey:    routeKey,
		Profile:     profile,
		AlgoVersion: s.algoVersion,
		Nodes:       []model.CorridorNode{},
		Edges:       []model.CorridorEdge{},
	}

	pts := keying.Polyline6Decode(polyline6)
	if len(pts) >= 2 {
		tight, _ := TightBBox(pts)
		pack.BBox = ExpandBBox(tight, bufferM)

		rows, err := s.edges.QueryBBox(ctx, pack.BBox.MinLng(), pack.BBox.MaxLng(),
			pack.BBox.MinLat(), pack.BBox.MaxLat(), maxEdges)
		if err != nil {
			return nil, apperr.Unavailablef("edge store query failed", err)
		}
		assemble(pack, rows)
		log.Info().Int("nodes", len(pack.Nodes)).Int("edges", len(pack.Edges)).
			Float64("buffer_m", bufferM).Msg("corridor built")
	} else {
		log.Warn().Msg("route geometry too short, writing empty corridor")
	}

	body, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("corridor: encode pack: %w", err)
	}
	if err := s.store.PutCorridorPack(ctx, ckey, body); err != nil {
		return nil, err
	}
	s.hot.Put(ctx, "corridor", ckey, body)
	return pack, nil
}

// assemble fills nodes and edges from adapter rows. Nodes are deduplicated
// by id in first-seen order; duplicate (a, b) edges keep the first row.
func assemble(pack *model.CorridorGraphPack, rows []edges.Row) {
	seenNode := make(map[int64]bool, len(rows)*2)
	seenEdge := make(map[[2]int64]bool, len(rows))
	for _, r := range rows {
		if !seenNode[r.FromID] {
			seenNode[r.FromID] = true
			pack.Nodes = append(pack.Nodes, model.CorridorNode{ID: r.FromID, Lat: r.FromLat, Lng: r.FromLng})
		}
		if !seenNode[r.ToID] {
			seenNode[r.ToID] = true
			pack.Nodes = append(pack.Nodes, model.CorridorNode{ID: r.ToID, Lat: r.ToLat, Lng: r.ToLng})
		}
		ek := [2]int64{r.FromID, r.ToID}
		if seenEdge[ek] {
			continue
		}
		seenEdge[ek] = true

		flags := 0
		if r.Toll {
			flags |= model.EdgeFlagToll
		}
		if r.Ferry {
			flags |= model.EdgeFlagFerry
		}
		if r.Unsealed {
			flags |= model.EdgeFlagUnsealed
		}
		pack.Edges = append(pack.Edges, model.CorridorEdge{
			A:         r.FromID,
			B:         r.ToID,
			DistanceM: int(math.Round(r.DistM)),
			DurationS: int(math.Round(r.CostS)),
			Flags:     flags,
		})
	}
}

// Get returns a stored corridor pack by key.
func (s *Service) Get(ctx context.Context, corridorKey string) (*model.CorridorGraphPack, error) {
	if raw := s.hot.Get(ctx, "corridor", corridorKey); raw != nil {
		var pack model.CorridorGraphPack
		if err := json.Unmarshal(raw, &pack); err == nil {
			return &pack, nil
		}
	}
	stored, err := s.store.GetCorridorPack(ctx, corridorKey)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperr.NotFound("corridor_missing: no corridor pack found for " + corridorKey)
	}
	var pack model.CorridorGraphPack
	if err := json.Unmarshal(stored.JSON, &pack); err != nil {
		return nil, fmt.Errorf("corridor: decode stored pack %s: %w", corridorKey, err)
	}
	s.hot.Put(ctx, "corridor", corridorKey, stored.JSON)
	return &pack, nil
}
