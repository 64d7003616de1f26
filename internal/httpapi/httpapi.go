// Package httpapi is the thin JSON surface over the pack services. Handlers
// decode, call one service, and encode; every business rule lives below.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/bundle"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/corridor"
	"github.com/roamtrip/roampack/internal/elevation"
	"github.com/roamtrip/roampack/internal/engine"
	"github.com/roamtrip/roampack/internal/geocode"
	"github.com/roamtrip/roampack/internal/health"
	"github.com/roamtrip/roampack/internal/overlays"
	"github.com/roamtrip/roampack/internal/places"
	"github.com/roamtrip/roampack/internal/routing"
)

// Deps carries every service the surface fronts. The composition root wires
// them once; nothing here is optional except what the services themselves
// treat as optional.
type Deps struct {
	Routing   *routing.Service
	Corridor  *corridor.Service
	Places    *places.Service
	Traffic   *overlays.Traffic
	Hazards   *overlays.Hazards
	Bundle    *bundle.Service
	Elevation *elevation.Service
	Geocode   *geocode.Service
	Engine    *engine.Engine

	// Ready backs /readyz. Nil skips the route, which keeps tests that
	// only exercise handlers from needing an edge store.
	Ready health.ReadinessReporter

	Cfg config.Config
	Log zerolog.Logger
}

type api struct {
	routing   *routing.Service
	corridor  *corridor.Service
	places    *places.Service
	traffic   *overlays.Traffic
	hazards   *overlays.Hazards
	bundle    *bundle.Service
	elevation *elevation.Service
	geocode   *geocode.Service
	engine    *engine.Engine

	cfg config.Config
	log zerolog.Logger
}

func New(d Deps) http.Handler {
	a := &api{
		routing:   d.Routing,
		corridor:  d.Corridor,
		places:    d.Places,
		traffic:   d.Traffic,
		hazards:   d.Hazards,
		bundle:    d.Bundle,
		elevation: d.Elevation,
		geocode:   d.Geocode,
		engine:    d.Engine,
		cfg:       d.Cfg,
		log:       d.Log,
	}

	r := chi.NewRouter()
	r.Use(recoverPanics(d.Log))
	r.Use(requestLogging(d.Log))
	r.Use(cors())
	r.Use(metrics())

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Get("/readyz", health.Readiness(d.Ready))
	}
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/nav", func(r chi.Router) {
		r.Post("/route", a.navRoute)
		r.Post("/corridor/ensure", a.corridorEnsure)
		r.Get("/corridor/{corridorKey}", a.corridorGet)
		r.Post("/traffic/poll", a.trafficPoll)
		r.Post("/hazards/poll", a.hazardsPoll)
	})

	r.Route("/places", func(r chi.Router) {
		r.Post("/search", a.placesSearch)
		r.Post("/corridor", a.placesCorridor)
		r.Post("/suggest", a.placesSuggest)
	})

	r.Route("/bundle", func(r chi.Router) {
		r.Post("/build", a.bundleBuild)
		r.Get("/{planID}", a.bundleManifest)
		r.Get("/{planID}/download", a.bundleDownload)
	})

	r.Post("/elevation/profile", a.elevationProfile)
	r.Post("/geocode/forward", a.geocodeForward)

	return r
}
