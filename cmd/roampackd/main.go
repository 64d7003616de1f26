package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"

	"github.com/roamtrip/roampack/internal/bundle"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/corridor"
	"github.com/roamtrip/roampack/internal/edges"
	"github.com/roamtrip/roampack/internal/elevation"
	"github.com/roamtrip/roampack/internal/engine"
	"github.com/roamtrip/roampack/internal/geocode"
	"github.com/roamtrip/roampack/internal/httpapi"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/overlays"
	"github.com/roamtrip/roampack/internal/packevents"
	"github.com/roamtrip/roampack/internal/places"
	"github.com/roamtrip/roampack/internal/routing"
	"github.com/roamtrip/roampack/internal/store"
	"github.com/roamtrip/roampack/internal/store/hotcache"
)

var Version = "dev"

// edgeReadiness reports the edge graph as the readiness signal. A server
// that cannot reach its edges can route but never build a corridor.
type edgeReadiness struct {
	ed edges.Store
}

func (e edgeReadiness) Readiness(ctx context.Context) (bool, int64) {
	n, err := e.ed.Count(ctx)
	return err == nil, n
}

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "roampackd",
	}, os.Stdout)

	observability.ExposeBuildInfo(Version)
	log.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("cache_db", cfg.CacheDBPath).
		Msg("starting roampackd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.CacheDBPath, log)
	if err != nil {
		log.Error().Err(err).Msg("cache store init failed")
		return 1
	}
	defer st.Close()

	// The edge store is the one dependency the corridor cannot degrade
	// around, so a broken configuration fails the boot.
	ed, err := edges.Open(ctx, cfg.EdgesDatabaseURL, cfg.EdgesDBPath, log)
	if err != nil {
		log.Error().Err(err).Msg("edge store init failed")
		return 1
	}
	defer ed.Close()
	if n, err := ed.Count(ctx); err != nil {
		log.Warn().Err(err).Msg("edge store count failed")
	} else {
		log.Info().Int64("edges", n).Msg("edge store ready")
	}

	var hot *hotcache.Cache
	if cfg.RedisAddr != "" {
		hot, err = hotcache.New(ctx, cfg.RedisAddr, cfg.RedisPackTTL, log)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, hot tier disabled")
			hot = nil
		} else {
			defer hot.Close()
		}
	}

	var pub *packevents.Publisher
	if cfg.PackEvents.Brokers != "" {
		// Route sarama's own chatter through the process stream.
		sarama.Logger = slog.NewLogLogger(logger.NewSlog(&log).Handler(), slog.LevelDebug)
		pub, err = packevents.New(cfg.PackEvents, log)
		if err != nil {
			log.Warn().Err(err).Msg("kafka unavailable, pack events disabled")
			pub = nil
		} else {
			st.SetPackSink(pub)
			defer pub.Close()
		}
	}

	over := places.NewOverpassClient(cfg.Overpass, nil, log)
	supa := places.NewSupaRepo(cfg.Supa, nil, log)
	if supa != nil {
		log.Info().Msg("supa place pool enabled")
	}

	co := corridor.New(st, hot, ed, cfg.CorridorAlgoVersion, log)
	pl := places.New(st, hot, over, supa, cfg, log)
	tr := overlays.NewTraffic(st, hot, nil, cfg, log)
	hz := overlays.NewHazards(st, hot, nil, cfg, log)
	bu := bundle.New(st, log)
	geo := geocode.New(cfg.Mapbox, cfg.PlacesAlgoVersion, nil, log)
	if !geo.Enabled() {
		log.Info().Msg("mapbox geocoding disabled, no token")
	}

	handler := httpapi.New(httpapi.Deps{
		Routing:   routing.New(st, hot, nil, cfg, log),
		Corridor:  co,
		Places:    pl,
		Traffic:   tr,
		Hazards:   hz,
		Bundle:    bu,
		Elevation: elevation.New(nil, cfg, log),
		Geocode:   geo,
		Engine:    engine.New(co, pl, tr, hz, bu, cfg, log),
		Ready:     edgeReadiness{ed: ed},
		Cfg:       cfg,
		Log:       log,
	})

	if err := httpapi.Run(ctx, cfg.Addr, handler, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return 1
	}
	log.Info().Msg("server stopped")
	return 0
}
