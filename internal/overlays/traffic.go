package overlays

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/httpclient"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
	"github.com/roamtrip/roampack/internal/store/hotcache"
)

// sourceResult is what one feed contributes to a poll. Failures surface
// as warnings, never as errors: a pack with six of seven sources is
// still a pack.
type sourceResult struct {
	events   []model.TrafficEvent
	warnings []string
}

type trafficSource struct {
	name string
	run  func(ctx context.Context) sourceResult
}

// Traffic polls the state road-event feeds for a bbox and folds the
// results into a deterministic, cacheable pack.
type Traffic struct {
	store    *store.Store
	hot      *hotcache.Cache
	http     *http.Client
	feeds    config.FeedsCfg
	defaults config.OverlaysCfg

	algoVersion string
	qld         *qldEventCache

	log zerolog.Logger
}

func NewTraffic(st *store.Store, hot *hotcache.Cache, hc *http.Client, cfg config.Config, log zerolog.Logger) *Traffic {
	oc := cfg.Overlays
	if oc.CacheFor <= 0 {
		oc.CacheFor = 120 * time.Second
	}
	if oc.Timeout <= 0 {
		oc.Timeout = 15 * time.Second
	}
	if oc.QLDFullRefresh <= 0 {
		oc.QLDFullRefresh = 900 * time.Second
	}
	if oc.QLDCacheFor <= 0 {
		oc.QLDCacheFor = 60 * time.Second
	}
	algo := cfg.TrafficAlgoVersion
	if algo == "" {
		algo = "traffic.v2.qldtraffic.events"
	}
	if hc == nil {
		hc = httpclient.NewOutbound(oc.Timeout + 5*time.Second)
	}
	return &Traffic{
		store:       st,
		hot:         hot,
		http:        hc,
		feeds:       cfg.Feeds,
		defaults:    oc,
		algoVersion: algo,
		qld:         &qldEventCache{},
		log:         log.With().Str("component", "traffic").Logger(),
	}
}

// trafficStates filters the overlapping states down to those with a road
// feed. TAS publishes no traffic JSON API; the ACT rides on NSW.
func trafficStates(bbox model.BBox) []string {
	all := withNSWForACT(StatesForBBox(bbox))
	out := all[:0]
	for _, s := range all {
		switch s {
		case "qld", "nsw", "vic", "sa", "wa", "nt":
			out = append(out, s)
		}
	}
	return out
}

// sourcesFor assembles the fetchers for the query states. NSW expands to
// one source per feed type so the whole fan-out stays flat.
func (t *Traffic) sourcesFor(states []string) []trafficSource {
	var out []trafficSource
	for _, st := range states {
		switch st {
		case "qld":
			if t.feeds.QLDTrafficURL != "" {
				out = append(out, trafficSource{name: "qld", run: t.pollQLD})
			}
		case "nsw":
			out = append(out, t.nswSources()...)
		case "vic":
			if t.feeds.VICTrafficEnabled && t.feeds.VICTrafficURL != "" {
				out = append(out, trafficSource{name: "vic", run: t.pollVIC})
			}
		case "sa":
			if t.feeds.SATrafficEnabled && t.feeds.SATrafficURL != "" {
				out = append(out, trafficSource{name: "sa", run: t.pollSA})
			}
		case "wa":
			if t.feeds.WATrafficEnabled && t.feeds.WATrafficURL != "" {
				out = append(out, trafficSource{name: "wa", run: t.pollWA})
			}
		case "nt":
			if t.feeds.NTTrafficEnabled && t.feeds.NTTrafficURL != "" {
				out = append(out, trafficSource{name: "nt", run: t.pollNT})
			}
		}
	}
	return out
}

// Poll returns the traffic pack for a bbox: the cached pack when fresh,
// otherwise a concurrent fan-out across every state source the bbox
// touches. cacheFor and timeout override the configured defaults when
// positive.
func (t *Traffic) Poll(ctx context.Context, bbox model.BBox, cacheFor, timeout time.Duration) (*model.TrafficPack, error) {
	if cacheFor <= 0 {
		cacheFor = t.defaults.CacheFor
	}
	if timeout <= 0 {
		timeout = t.defaults.Timeout
	}
	log := logger.FromContext(ctx, &t.log)

	states := trafficStates(bbox)
	key, err := keying.OverlayKey(t.algoVersion, bbox, states)
	if err != nil {
		return nil, err
	}

	if pack := t.readPack(ctx, key); pack != nil && time.Since(pack.CreatedAt) <= cacheFor {
		return pack, nil
	}

	if len(states) == 0 {
		pack := t.newPack(key, bbox, nil, []string{"No Australian states overlap this bbox."}, "no_states")
		return t.finalize(ctx, pack)
	}

	sources := t.sourcesFor(states)
	results := make([]sourceResult, len(sources))

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(fctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = src.run(gctx)
			return nil
		})
	}
	_ = g.Wait() // sources never return errors, only warnings

	// Merge in declared source order so dedup is deterministic. First
	// parser wins on id collisions.
	loose := bbox.DiagonalDeg() >= looseAdmitDiagonalDeg
	items := []model.TrafficEvent{}
	warnings := []string{}
	seen := make(map[string]struct{})
	for _, res := range results {
		warnings = append(warnings, res.warnings...)
		for _, ev := range res.events {
			if !admitEvent(ev.BBox, bbox, loose) {
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			items = append(items, ev)
		}
	}

	provider := strings.Join(states, "+")
	if len(items) == 0 {
		provider += ":empty"
	}

	log.Info().
		Str("traffic_key", key).
		Strs("states", states).
		Int("sources", len(sources)).
		Int("items", len(items)).
		Int("warnings", len(warnings)).
		Msg("traffic poll assembled")

	return t.finalize(ctx, t.newPack(key, bbox, items, warnings, provider))
}

func (t *Traffic) newPack(key string, bbox model.BBox, items []model.TrafficEvent, warnings []string, provider string) *model.TrafficPack {
	if items == nil {
		items = []model.TrafficEvent{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &model.TrafficPack{
		TrafficKey:  key,
		BBox:        bbox,
		Items:       items,
		Warnings:    warnings,
		Provider:    provider,
		CreatedAt:   time.Now().UTC(),
		AlgoVersion: t.algoVersion,
	}
}

// readPack checks the hot tier then the pack store. A store hit warms the
// hot tier on the way out.
func (t *Traffic) readPack(ctx context.Context, key string) *model.TrafficPack {
	if raw := t.hot.Get(ctx, "traffic", key); raw != nil {
		var pack model.TrafficPack
		if err := json.Unmarshal(raw, &pack); err == nil {
			observability.IncCacheHit("traffic")
			return &pack
		}
	}
	stored, err := t.store.GetTrafficPack(ctx, key)
	if err != nil {
		t.log.Warn().Err(err).Str("traffic_key", key).Msg("traffic pack read failed")
		return nil
	}
	if stored == nil {
		observability.IncCacheMiss("traffic")
		return nil
	}
	var pack model.TrafficPack
	if err := json.Unmarshal(stored.JSON, &pack); err != nil {
		t.log.Warn().Err(err).Str("traffic_key", key).Msg("stored traffic pack is corrupt")
		return nil
	}
	observability.IncCacheHit("traffic")
	t.hot.Put(ctx, "traffic", key, stored.JSON)
	return &pack
}

func (t *Traffic) finalize(ctx context.Context, pack *model.TrafficPack) (*model.TrafficPack, error) {
	body, err := json.Marshal(pack)
	if err != nil {
		return nil, err
	}
	if err := t.store.PutTrafficPack(ctx, pack.TrafficKey, body); err != nil {
		return nil, err
	}
	t.hot.Put(ctx, "traffic", pack.TrafficKey, body)
	return pack, nil
}
