package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/httpclient"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

// supaUpsertChunk bounds payload size on big corridor pulls.
const supaUpsertChunk = 500

type supaRow struct {
	OSMType  string         `json:"osm_type"`
	OSMID    int64          `json:"osm_id"`
	Lat      float64        `json:"lat"`
	Lng      float64        `json:"lng"`
	Name     *string        `json:"name"`
	Category *string        `json:"category"`
	Tags     map[string]any `json:"tags"`
	Source   string         `json:"source,omitempty"`
}

type supaQueryRow struct {
	OSMType  string         `json:"osm_type"`
	OSMID    int64          `json:"osm_id"`
	Lat      *float64       `json:"lat"`
	Lng      *float64       `json:"lng"`
	Name     *string        `json:"name"`
	Category *string        `json:"category"`
	Tags     map[string]any `json:"tags"`
}

// SupaRepo speaks PostgREST to the shared POI pool table, authenticated
// with the service role key. A nil *SupaRepo is a disabled pool: every
// method no-ops, so callers never branch on configuration.
type SupaRepo struct {
	base string
	key  string
	http *http.Client
	log  zerolog.Logger
}

// NewSupaRepo returns nil when the pool is disabled or not configured.
func NewSupaRepo(cfg config.SupaCfg, hc *http.Client, log zerolog.Logger) *SupaRepo {
	if !cfg.Enabled || cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil
	}
	if hc == nil {
		hc = httpclient.NewOutbound(30 * time.Second)
	}
	return &SupaRepo{
		base: strings.TrimRight(cfg.URL, "/"),
		key:  cfg.ServiceRoleKey,
		http: hc,
		log:  log.With().Str("component", "supa_pool").Logger(),
	}
}

func (r *SupaRepo) Enabled() bool { return r != nil }

func (r *SupaRepo) setHeaders(req *http.Request) {
	req.Header.Set("apikey", r.key)
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Content-Type", "application/json")
}

// osmRefFromExtra recovers the (osm_type, osm_id) identity. The id
// arrives as int64 fresh from Overpass but as float64 or string after a
// JSON round trip through SQLite or the pool.
func osmRefFromExtra(extra map[string]any) (string, int64, bool) {
	typ, _ := extra["osm_type"].(string)
	if typ == "" {
		return "", 0, false
	}
	switch v := extra["osm_id"].(type) {
	case int64:
		return typ, v, true
	case int:
		return typ, int64(v), true
	case float64:
		return typ, int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return "", 0, false
		}
		return typ, n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", 0, false
		}
		return typ, n, true
	}
	return "", 0, false
}

// UpsertItems publishes items into the pool keyed by (osm_type, osm_id),
// merging on conflict so richer later fetches win. Items without an OSM
// identity are skipped. Returns the number of rows written.
func (r *SupaRepo) UpsertItems(ctx context.Context, items []model.PlaceItem, source string) (int, error) {
	if r == nil || len(items) == 0 {
		return 0, nil
	}
	rows := make([]supaRow, 0, len(items))
	for _, it := range items {
		typ, id, ok := osmRefFromExtra(it.Extra)
		if !ok {
			continue
		}
		row := supaRow{OSMType: typ, OSMID: id, Lat: it.Lat, Lng: it.Lng, Tags: it.Extra, Source: source}
		if it.Name != "" {
			n := it.Name
			row.Name = &n
		}
		if it.Category != "" {
			c := string(it.Category)
			row.Category = &c
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	u := r.base + "/rest/v1/roam_places_items?on_conflict=osm_type,osm_id"
	wrote := 0
	for i := 0; i < len(rows); i += supaUpsertChunk {
		chunk := rows[i:min(i+supaUpsertChunk, len(rows))]
		body, err := json.Marshal(chunk)
		if err != nil {
			return wrote, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return wrote, err
		}
		r.setHeaders(req)
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

		t0 := time.Now()
		resp, err := r.http.Do(req)
		observability.ObserveUpstreamLatency("supa", time.Since(t0).Seconds())
		if err != nil {
			return wrote, err
		}
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
			resp.Body.Close()
			return wrote, fmt.Errorf("supa upsert: status %d: %s", resp.StatusCode, msg)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		wrote += len(chunk)
	}
	r.log.Debug().Int("rows", wrote).Str("source", source).Msg("pool upsert complete")
	return wrote, nil
}

// QueryBBox pulls pool rows inside the box, optionally narrowed to
// categories, using PostgREST range operators.
func (r *SupaRepo) QueryBBox(ctx context.Context, bbox model.BBox, categories []model.Category, limit int) ([]model.PlaceItem, error) {
	if r == nil {
		return nil, nil
	}
	if limit < 1 {
		limit = 1
	}
	q := url.Values{}
	q.Set("select", "osm_type,osm_id,lat,lng,name,category,tags")
	q.Add("lat", "gte."+fmtCoord(bbox.MinLat()))
	q.Add("lat", "lte."+fmtCoord(bbox.MaxLat()))
	q.Add("lng", "gte."+fmtCoord(bbox.MinLng()))
	q.Add("lng", "lte."+fmtCoord(bbox.MaxLng()))
	q.Set("limit", strconv.Itoa(limit))
	if len(categories) > 0 {
		cats := make([]string, 0, len(categories))
		for _, c := range categories {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		q.Set("category", "in.("+strings.Join(cats, ",")+")")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/rest/v1/roam_places_items?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	t0 := time.Now()
	resp, err := r.http.Do(req)
	observability.ObserveUpstreamLatency("supa", time.Since(t0).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
		return nil, fmt.Errorf("supa query: status %d: %s", resp.StatusCode, msg)
	}

	var rows []supaQueryRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("supa query: decode response: %w", err)
	}

	out := make([]model.PlaceItem, 0, len(rows))
	for _, row := range rows {
		if row.OSMType == "" || row.Lat == nil || row.Lng == nil {
			continue
		}
		tags := row.Tags
		if tags == nil {
			tags = map[string]any{}
		}
		tags["osm_type"] = row.OSMType
		tags["osm_id"] = row.OSMID

		cat := model.CatTown
		if row.Category != nil && *row.Category != "" {
			cat = model.Category(*row.Category)
		}
		name := ""
		if row.Name != nil {
			name = *row.Name
		}
		out = append(out, model.PlaceItem{
			ID:       fmt.Sprintf("osm:%s:%d", row.OSMType, row.OSMID),
			Name:     name,
			Lat:      *row.Lat,
			Lng:      *row.Lng,
			Category: cat,
			Extra:    tags,
		})
	}
	return out, nil
}
