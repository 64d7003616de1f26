package overlays

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
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

type hazardResult struct {
	events   []model.HazardEvent
	warnings []string
}

type hazardSource struct {
	name string
	run  func(ctx context.Context) hazardResult
}

// Hazards polls the warning feeds for a bbox: BOM RSS per state, the
// state emergency services (CAP-AU or vendor JSON), and the national
// DEA hotspot layer, folded into one deterministic, cacheable pack.
type Hazards struct {
	store    *store.Store
	hot      *hotcache.Cache
	http     *http.Client
	feeds    config.FeedsCfg
	defaults config.OverlaysCfg

	algoVersion string
	deaMinConf  int64
	deaMaxAgeH  float64

	log zerolog.Logger
}

func NewHazards(st *store.Store, hot *hotcache.Cache, hc *http.Client, cfg config.Config, log zerolog.Logger) *Hazards {
	oc := cfg.Overlays
	if oc.CacheFor <= 0 {
		oc.CacheFor = 120 * time.Second
	}
	if oc.Timeout <= 0 {
		oc.Timeout = 15 * time.Second
	}
	algo := cfg.HazardsAlgoVersion
	if algo == "" {
		algo = "hazards.v1.qld.cap"
	}
	if hc == nil {
		hc = httpclient.NewOutbound(oc.Timeout + 5*time.Second)
	}
	minConf := int64(cfg.Feeds.DEAMinConfidence)
	if minConf <= 0 {
		minConf = 50
	}
	maxAge := float64(cfg.Feeds.DEAMaxAgeH)
	if maxAge <= 0 {
		maxAge = 72
	}
	return &Hazards{
		store:       st,
		hot:         hot,
		http:        hc,
		feeds:       cfg.Feeds,
		defaults:    oc,
		algoVersion: algo,
		deaMinConf:  minConf,
		deaMaxAgeH:  maxAge,
		log:         log.With().Str("component", "hazards").Logger(),
	}
}

// hazardStates keeps every overlapping jurisdiction. The ACT has no
// feeds of its own but stays in the list (and in the key); NSW covers
// its warnings.
func hazardStates(bbox model.BBox) []string {
	return withNSWForACT(StatesForBBox(bbox))
}

func (h *Hazards) rssSource(name, url, region string) hazardSource {
	return hazardSource{name: name, run: func(ctx context.Context) hazardResult {
		body, err := fetchBody(ctx, h.http, url, nil, name)
		if err != nil {
			return h.failed(name, err)
		}
		return hazardResult{events: parseWarningFeed(body, name, region)}
	}}
}

// capSource fetches a CAP-AU feed. Some endpoints serve plain RSS under
// a CAP name; when the CAP parse yields nothing the RSS parser gets a
// second look at the same bytes.
func (h *Hazards) capSource(name, url, region string) hazardSource {
	return hazardSource{name: name, run: func(ctx context.Context) hazardResult {
		body, err := fetchBody(ctx, h.http, url, nil, name)
		if err != nil {
			return h.failed(name, err)
		}
		events := parseCAP(body, name, region)
		if len(events) == 0 {
			events = parseWarningFeed(body, name, region)
		}
		return hazardResult{events: events}
	}}
}

func (h *Hazards) jsonSource(name, url string, parse func([]byte) []model.HazardEvent) hazardSource {
	return hazardSource{name: name, run: func(ctx context.Context) hazardResult {
		body, err := fetchBody(ctx, h.http, url, nil, name)
		if err != nil {
			return h.failed(name, err)
		}
		return hazardResult{events: parse(body)}
	}}
}

// deaSource queries the national hotspot layer once per poll, not per
// state; the parser filters spatially against the query bbox.
func (h *Hazards) deaSource(bbox model.BBox) hazardSource {
	return hazardSource{name: "dea_hotspots", run: func(ctx context.Context) hazardResult {
		body, err := fetchBody(ctx, h.http, h.feeds.DEAHotspotsURL, nil, "dea_hotspots")
		if err != nil {
			return h.failed("dea_hotspots", err)
		}
		return hazardResult{events: parseDEAHotspots(body, bbox, h.deaMinConf, h.deaMaxAgeH)}
	}}
}

func (h *Hazards) failed(name string, err error) hazardResult {
	observability.IncOverlaySourceFailure(name)
	return hazardResult{warnings: []string{fmt.Sprintf("hazards:%s failed: %v", name, err)}}
}

// sourcesFor assembles the fetchers for the query states plus the
// national DEA layer.
func (h *Hazards) sourcesFor(states []string, bbox model.BBox) []hazardSource {
	var out []hazardSource
	for _, st := range states {
		if url := h.feeds.BOMRSS[st]; url != "" {
			out = append(out, h.rssSource("bom_rss_"+st, url, st))
		}
		switch st {
		case "qld":
			if h.feeds.QLDQFESCapURL != "" {
				out = append(out, h.capSource("qld_qfes", h.feeds.QLDQFESCapURL, "qld"))
			}
		case "nsw":
			if h.feeds.NSWRFSURL != "" {
				out = append(out, h.jsonSource("nsw_rfs", h.feeds.NSWRFSURL, parseNSWRFS))
			}
		case "vic":
			if h.feeds.VICEmergencyURL != "" {
				out = append(out, h.jsonSource("vic_emergency", h.feeds.VICEmergencyURL, parseVicEmergency))
			}
		case "sa":
			if h.feeds.SACFSURL != "" {
				out = append(out, h.jsonSource("sa_cfs", h.feeds.SACFSURL, parseSACFS))
			}
		case "wa":
			if h.feeds.WADFESCapURL != "" {
				out = append(out, h.capSource("wa_dfes", h.feeds.WADFESCapURL, "wa"))
			}
		case "nt":
			if h.feeds.NTSecureCapURL != "" {
				out = append(out, h.capSource("nt_securent", h.feeds.NTSecureCapURL, "nt"))
			}
		case "tas":
			if h.feeds.TASAlertCapURL != "" {
				out = append(out, h.capSource("tas_alert", h.feeds.TASAlertCapURL, "tas"))
			}
			if h.feeds.TASTheListURL != "" {
				out = append(out, h.jsonSource("tas_thelist", h.feeds.TASTheListURL, parseTASAlerts))
			}
		}
	}
	if h.feeds.DEAHotspotsURL != "" {
		out = append(out, h.deaSource(bbox))
	}
	return out
}

// filterSources keeps only the named sources. An empty filter keeps
// everything; unknown names match nothing.
func filterSources(all []hazardSource, filter []string) []hazardSource {
	if len(filter) == 0 {
		return all
	}
	want := make(map[string]struct{}, len(filter))
	for _, f := range filter {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			want[f] = struct{}{}
		}
	}
	if len(want) == 0 {
		return all
	}
	out := all[:0]
	for _, src := range all {
		if _, ok := want[src.name]; ok {
			out = append(out, src)
		}
	}
	return out
}

// normalizeFilter returns the sorted, deduplicated source names for key
// derivation, or nil when the filter is empty.
func normalizeFilter(filter []string) []string {
	seen := make(map[string]struct{}, len(filter))
	var out []string
	for _, f := range filter {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Poll returns the hazards pack for a bbox: the cached pack when fresh,
// otherwise a concurrent fan-out across every warning feed the bbox
// touches. A non-empty sources filter restricts the fan-out to the named
// feeds and keys the pack separately so a filtered poll never shadows
// the full one.
func (h *Hazards) Poll(ctx context.Context, bbox model.BBox, srcFilter []string, cacheFor, timeout time.Duration) (*model.HazardsPack, error) {
	if cacheFor <= 0 {
		cacheFor = h.defaults.CacheFor
	}
	if timeout <= 0 {
		timeout = h.defaults.Timeout
	}
	log := logger.FromContext(ctx, &h.log)

	states := hazardStates(bbox)
	filter := normalizeFilter(srcFilter)
	key, err := keying.OverlayKeyFiltered(h.algoVersion, bbox, states, filter)
	if err != nil {
		return nil, err
	}

	if pack := h.readPack(ctx, key); pack != nil && time.Since(pack.CreatedAt) <= cacheFor {
		return pack, nil
	}

	if len(states) == 0 {
		pack := h.newPack(key, bbox, nil, []string{"No Australian states overlap this bbox."}, "no_states")
		return h.finalize(ctx, pack)
	}

	sources := filterSources(h.sourcesFor(states, bbox), filter)
	results := make([]hazardResult, len(sources))

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
	items := []model.HazardEvent{}
	warnings := []string{}
	seen := make(map[string]struct{})
	deaRan := false
	for i, res := range results {
		if sources[i].name == "dea_hotspots" {
			deaRan = true
		}
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
	if deaRan {
		provider += "+dea"
	}

	log.Info().
		Str("hazards_key", key).
		Strs("states", states).
		Int("sources", len(sources)).
		Int("items", len(items)).
		Int("warnings", len(warnings)).
		Msg("hazards poll assembled")

	return h.finalize(ctx, h.newPack(key, bbox, items, warnings, provider))
}

func (h *Hazards) newPack(key string, bbox model.BBox, items []model.HazardEvent, warnings []string, provider string) *model.HazardsPack {
	if items == nil {
		items = []model.HazardEvent{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &model.HazardsPack{
		HazardsKey:  key,
		BBox:        bbox,
		Items:       items,
		Warnings:    warnings,
		Provider:    provider,
		CreatedAt:   time.Now().UTC(),
		AlgoVersion: h.algoVersion,
	}
}

func (h *Hazards) readPack(ctx context.Context, key string) *model.HazardsPack {
	if raw := h.hot.Get(ctx, "hazards", key); raw != nil {
		var pack model.HazardsPack
		if err := json.Unmarshal(raw, &pack); err == nil {
			observability.IncCacheHit("hazards")
			return &pack
		}
	}
	stored, err := h.store.GetHazardsPack(ctx, key)
	if err != nil {
		h.log.Warn().Err(err).Str("hazards_key", key).Msg("hazards pack read failed")
		return nil
	}
	if stored == nil {
		observability.IncCacheMiss("hazards")
		return nil
	}
	var pack model.HazardsPack
	if err := json.Unmarshal(stored.JSON, &pack); err != nil {
		h.log.Warn().Err(err).Str("hazards_key", key).Msg("stored hazards pack is corrupt")
		return nil
	}
	observability.IncCacheHit("hazards")
	h.hot.Put(ctx, "hazards", key, stored.JSON)
	return &pack
}

func (h *Hazards) finalize(ctx context.Context, pack *model.HazardsPack) (*model.HazardsPack, error) {
	body, err := json.Marshal(pack)
	if err != nil {
		return nil, err
	}
	if err := h.store.PutHazardsPack(ctx, pack.HazardsKey, body); err != nil {
		return nil, err
	}
	h.hot.Put(ctx, "hazards", pack.HazardsKey, body)
	return pack, nil
}
