// Package engine orchestrates the full offline bundle build: corridor
// first (everything downstream needs its bbox), then the places pack and
// both overlays in parallel, then the manifest. Retries live in the
// services; the orchestrator only sequences them.
package engine

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/bundle"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/corridor"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/overlays"
	"github.com/roamtrip/roampack/internal/places"
)

// DefaultBundleCategories is what an offline road bundle carries when the
// plan does not narrow it: essentials, food, accommodation, and the stops
// worth pulling over for. Corridor place searches default to the same set.
var DefaultBundleCategories = []string{
	"fuel", "toilet", "water", "camp", "town",
	"grocery", "mechanic", "hospital", "pharmacy",
	"cafe", "restaurant", "fast_food", "pub", "bar",
	"hotel", "motel", "hostel",
	"viewpoint", "attraction", "park", "beach",
}

// BundlePlacesLimit caps the place pack baked into an offline bundle.
const BundlePlacesLimit = 8000

type Engine struct {
	corridor *corridor.Service
	places   *places.Service
	traffic  *overlays.Traffic
	hazards  *overlays.Hazards
	bundle   *bundle.Service
	cfg      config.Config
	log      zerolog.Logger
}

func New(
	co *corridor.Service,
	pl *places.Service,
	tr *overlays.Traffic,
	hz *overlays.Hazards,
	bu *bundle.Service,
	cfg config.Config,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		corridor: co,
		places:   pl,
		traffic:  tr,
		hazards:  hz,
		bundle:   bu,
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

type BuildRequest struct {
	PlanID   string   `json:"plan_id"`
	RouteKey string   `json:"route_key"`
	Geometry string   `json:"geometry"` // polyline6
	Profile  string   `json:"profile,omitempty"`
	BufferM  float64  `json:"buffer_m,omitempty"`
	MaxEdges int      `json:"max_edges,omitempty"`
	Styles   []string `json:"styles,omitempty"`
}

// BuildBundle assembles every pack a plan needs offline and returns the
// manifest describing them. The navpack is expected to be cached already
// by the route call that produced route_key; a bundle never re-routes.
func (e *Engine) BuildBundle(ctx context.Context, req BuildRequest) (*model.OfflineBundleManifest, error) {
	if req.PlanID == "" {
		return nil, apperr.BadRequest("plan_id required")
	}
	if req.RouteKey == "" {
		return nil, apperr.BadRequest("route_key required")
	}
	if req.Geometry == "" {
		return nil, apperr.BadRequest("geometry required")
	}

	profile := req.Profile
	if profile == "" {
		profile = "drive"
	}
	bufferM := req.BufferM
	if bufferM <= 0 {
		bufferM = e.cfg.CorridorBufferM
	}
	maxEdges := req.MaxEdges
	if maxEdges <= 0 {
		maxEdges = e.cfg.CorridorMaxEdges
	}

	log := logger.FromContext(ctx, &e.log).With().Str("plan_id", req.PlanID).Logger()
	log.Debug().
		Str("route_key", req.RouteKey).
		Str("profile", profile).
		Float64("buffer_m", bufferM).
		Msg("bundle build started")

	cpack, err := e.corridor.Ensure(ctx, req.RouteKey, req.Geometry, profile, bufferM, maxEdges)
	if err != nil {
		return nil, err
	}

	in := bundle.ManifestInput{
		PlanID:   req.PlanID,
		RouteKey: req.RouteKey,
		Styles:   req.Styles,
		Navpack:  bundle.Ready(req.RouteKey),
		Corridor: bundle.Ready(cpack.CorridorKey),
	}

	// A degenerate corridor has no bbox to search, so the bundle carries
	// navigation data only instead of failing the whole build.
	if cpack.BBox.IsZero() {
		log.Warn().Str("corridor_key", cpack.CorridorKey).Msg("corridor has no extent, skipping overlays")
		return e.bundle.BuildManifest(ctx, in)
	}

	var (
		ppack *model.PlacesPack
		tpack *model.TrafficPack
		hpack *model.HazardsPack
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ppack, err = e.places.Search(gctx, model.PlacesQuery{
			BBox:       &cpack.BBox,
			Categories: DefaultBundleCategories,
			Limit:      BundlePlacesLimit,
		})
		return err
	})
	g.Go(func() error {
		var err error
		tpack, err = e.traffic.Poll(gctx, cpack.BBox, 0, 0)
		return err
	})
	g.Go(func() error {
		var err error
		hpack, err = e.hazards.Poll(gctx, cpack.BBox, nil, 0, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in.Places = bundle.Ready(ppack.PlacesKey)
	in.Traffic = bundle.Ready(tpack.TrafficKey)
	in.Hazards = bundle.Ready(hpack.HazardsKey)

	log.Info().
		Str("corridor_key", cpack.CorridorKey).
		Int("places", len(ppack.Items)).
		Int("traffic", len(tpack.Items)).
		Int("hazards", len(hpack.Items)).
		Msg("bundle packs assembled")

	return e.bundle.BuildManifest(ctx, in)
}
