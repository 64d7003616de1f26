package overlays

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

// qldEventCache is the process-wide merge cache for the QLD Traffic v2
// events endpoint. The full snapshot is large, so between full refreshes
// the past-one-hour delta feed keeps it current: published/reopened
// features upsert, anything else deletes.
type qldEventCache struct {
	mu       sync.Mutex
	fullAt   time.Time
	deltaAt  time.Time
	features map[string]string // cache id -> raw feature JSON
}

func (c *qldEventCache) fullStale(refresh time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.features) == 0 || time.Since(c.fullAt) > refresh
}

// freshEnough reports whether the snapshot can be served without touching
// the delta feed at all.
func (c *qldEventCache) freshEnough(ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.features) == 0 {
		return false
	}
	last := c.fullAt
	if c.deltaAt.After(last) {
		last = c.deltaAt
	}
	return time.Since(last) <= ttl
}

func (c *qldEventCache) swap(features map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features = features
	c.fullAt = time.Now()
}

func (c *qldEventCache) merge(upserts map[string]string, deletes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.features == nil {
		c.features = make(map[string]string)
	}
	for _, id := range deletes {
		delete(c.features, id)
	}
	for id, raw := range upserts {
		c.features[id] = raw
	}
	c.deltaAt = time.Now()
}

func (c *qldEventCache) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.features))
	for _, raw := range c.features {
		out = append(out, raw)
	}
	return out
}

// qldStatusAllows keeps only live features. An absent status field is
// treated as live; the delta feed uses closed/archived statuses as
// tombstones.
func qldStatusAllows(f gjson.Result) bool {
	status := strings.ToLower(firstString(f, "properties.status"))
	return status == "" || status == "published" || status == "reopened"
}

func qldSourceID(f gjson.Result) string {
	return firstString(f, "id", "properties.id", "properties.event_id", "properties.eventId")
}

// qldCacheID is the merge-cache identity: the upstream id when present,
// otherwise a hash of the feature's shape.
func qldCacheID(f gjson.Result) string {
	if sid := qldSourceID(f); sid != "" {
		return stableID("qldtraffic", sid)
	}
	return stableID(
		"qldtraffic",
		f.Get("geometry.type").String(),
		truncate(f.Get("geometry.coordinates").Raw, 240),
		truncate(f.Get("properties").Raw, 240),
	)
}

// qldIndexFull builds a fresh id->feature index from a full snapshot.
func qldIndexFull(body []byte) map[string]string {
	out := make(map[string]string)
	for _, f := range gjson.GetBytes(body, "features").Array() {
		if !f.IsObject() || !qldStatusAllows(f) {
			continue
		}
		out[qldCacheID(f)] = f.Raw
	}
	return out
}

// qldIndexDelta splits a delta body into upserts and tombstones.
func qldIndexDelta(body []byte) (upserts map[string]string, deletes []string) {
	upserts = make(map[string]string)
	for _, f := range gjson.GetBytes(body, "features").Array() {
		if !f.IsObject() {
			continue
		}
		id := qldCacheID(f)
		if qldStatusAllows(f) {
			upserts[id] = f.Raw
		} else {
			deletes = append(deletes, id)
		}
	}
	return upserts, deletes
}

// qldFeatureToEvent normalizes one cached feature. ok is false for
// features that have already ended.
func qldFeatureToEvent(raw string) (model.TrafficEvent, bool) {
	f := gjson.Parse(raw)
	props := f.Get("properties")

	endAt := parseWhen(firstString(props, "end", "end_time", "endTime", "expires", "expiry", "to"))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	headline := firstString(props, "headline", "title", "event_type", "type", "description")
	if headline == "" {
		headline = "events event"
	}
	desc := firstString(props, "description", "information", "advice")
	structured := firstString(props, "event_type", "type")
	typ, sev := classifyTraffic(headline, desc, structured)

	geom := decodeGeometry(f.Get("geometry"))

	var id string
	if sid := qldSourceID(f); sid != "" {
		id = stableID("qldtraffic", "events", sid)
	} else {
		id = stableID("qldtraffic", "events", truncate(headline, 160), truncate(f.Get("geometry").Raw, 600))
	}

	return model.TrafficEvent{
		ID:          id,
		Source:      "qldtraffic",
		Feed:        "events",
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: desc,
		URL:         firstString(props, "url", "link"),
		IssuedAt:    parseWhen(firstString(props, "last_updated", "lastUpdated", "updated")),
		StartAt:     parseWhen(firstString(props, "start", "start_time", "startTime", "from")),
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bboxOf(geom),
		Region:      "qld",
		Raw:         rawMap(props),
	}, true
}

// pollQLD serves events from the merge cache, refreshing it first when
// needed: a full snapshot when stale, a delta merge when only slightly
// behind. A delta failure still serves the previous snapshot.
func (t *Traffic) pollQLD(ctx context.Context) sourceResult {
	urlFull := t.feeds.QLDTrafficURL
	if t.feeds.QLDTrafficAPIKey != "" {
		urlFull = withQuery(urlFull, "apikey", t.feeds.QLDTrafficAPIKey)
	}

	var warnings []string
	switch {
	case t.qld.fullStale(t.defaults.QLDFullRefresh):
		body, err := fetchBody(ctx, t.http, urlFull, nil, "qld_traffic")
		if err != nil {
			observability.IncOverlaySourceFailure("qld_traffic")
			return sourceResult{warnings: []string{fmt.Sprintf("traffic:qld_v2 failed: %v", err)}}
		}
		t.qld.swap(qldIndexFull(body))
	case t.feeds.QLDTrafficDeltaURL != "" && !t.qld.freshEnough(t.defaults.QLDCacheFor):
		urlDelta := t.feeds.QLDTrafficDeltaURL
		if t.feeds.QLDTrafficAPIKey != "" {
			urlDelta = withQuery(urlDelta, "apikey", t.feeds.QLDTrafficAPIKey)
		}
		body, err := fetchBody(ctx, t.http, urlDelta, nil, "qld_traffic_delta")
		if err != nil {
			observability.IncOverlaySourceFailure("qld_traffic_delta")
			warnings = append(warnings, fmt.Sprintf("traffic:qld_delta failed: %v", err))
		} else {
			up, del := qldIndexDelta(body)
			t.qld.merge(up, del)
		}
	}

	var events []model.TrafficEvent
	for _, raw := range t.qld.snapshot() {
		if ev, ok := qldFeatureToEvent(raw); ok {
			events = append(events, ev)
		}
	}
	return sourceResult{events: events, warnings: warnings}
}
