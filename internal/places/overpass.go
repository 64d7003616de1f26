package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/httpclient"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassCenter   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// elementToItem converts one Overpass element into a PlaceItem. Elements
// without coordinates or an id are dropped. Unnamed features survive with
// a synthetic "Category — Locality" label, flagged in extra, so fuel and
// water stops in remote country still reach offline bundles.
func elementToItem(el overpassElement) (model.PlaceItem, bool) {
	var lat, lng float64
	switch {
	case el.Lat != nil && el.Lon != nil:
		lat, lng = *el.Lat, *el.Lon
	case el.Center != nil:
		lat, lng = el.Center.Lat, el.Center.Lon
	default:
		return model.PlaceItem{}, false
	}
	if el.ID == 0 {
		return model.PlaceItem{}, false
	}
	typ := el.Type
	if typ == "" {
		typ = "node"
	}

	cat := inferCategory(el.Tags)

	extra := make(map[string]any, len(el.Tags)+3)
	for k, v := range el.Tags {
		extra[k] = v
	}
	extra["osm_type"] = typ
	extra["osm_id"] = el.ID

	name := el.Tags["name"]
	if name == "" {
		name = el.Tags["brand"]
	}
	if name == "" {
		name = el.Tags["operator"]
	}
	if name == "" {
		name = syntheticName(cat, el.Tags)
		extra["synthetic_name"] = true
	}

	return model.PlaceItem{
		ID:       fmt.Sprintf("osm:%s:%d", typ, el.ID),
		Name:     name,
		Lat:      lat,
		Lng:      lng,
		Category: cat,
		Extra:    extra,
	}, true
}

func overpassBBoxExpr(b model.BBox) string {
	return "(" + fmtCoord(b.MinLat()) + "," + fmtCoord(b.MinLng()) + "," +
		fmtCoord(b.MaxLat()) + "," + fmtCoord(b.MaxLng()) + ")"
}

// buildBBoxQL queries node, way and relation for every filter inside the
// box. "out center;" makes ways and relations report a representative
// point instead of full geometry.
func buildBBoxQL(b model.BBox, filters []string, nameClause string, timeout time.Duration) string {
	box := overpassBBoxExpr(b)
	var parts strings.Builder
	if len(filters) == 0 {
		for _, kind := range []string{"node", "way", "relation"} {
			parts.WriteString(kind + nameClause + box + ";")
		}
	} else {
		for _, f := range filters {
			for _, kind := range []string{"node", "way", "relation"} {
				parts.WriteString(kind + nameClause + f + box + ";")
			}
		}
	}
	return fmt.Sprintf("[out:json][timeout:%d];(%s);out center;", int(timeout.Seconds()), parts.String())
}

const maxAroundCoords = 120

// buildAroundQL shapes the query to the route itself with an around
// filter over sampled coordinates. Relations are skipped here: they blow
// up query cost and rarely matter inside a travel corridor. Coordinate
// count is capped to keep the statement within server limits.
func buildAroundQL(coords []model.LatLng, radiusM float64, filters []string, nameClause string, timeout time.Duration) string {
	if len(coords) > maxAroundCoords {
		step := max(1, len(coords)/maxAroundCoords)
		ds := coords[:0:0]
		for i := 0; i < len(coords); i += step {
			ds = append(ds, coords[i])
		}
		coords = ds
	}
	var csv strings.Builder
	for i, c := range coords {
		if i > 0 {
			csv.WriteString(",")
		}
		fmt.Fprintf(&csv, "%.5f,%.5f", c.Lat, c.Lng)
	}
	around := fmt.Sprintf("(around:%.0f,%s)", radiusM, csv.String())

	var parts strings.Builder
	if len(filters) == 0 {
		parts.WriteString("node" + nameClause + around + ";")
		parts.WriteString("way" + nameClause + around + ";")
	} else {
		for _, f := range filters {
			parts.WriteString("node" + nameClause + f + around + ";")
			parts.WriteString("way" + nameClause + f + around + ";")
		}
	}
	return fmt.Sprintf("[out:json][timeout:%d];(%s);out center;", int(timeout.Seconds()), parts.String())
}

// nameClauseFor turns free text into a case-insensitive name filter, or
// "" when nothing usable remains. The regex is escaped and capped so user
// input cannot break the statement.
func nameClauseFor(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return ""
	}
	q = strings.ReplaceAll(q, `"`, "")
	q = regexp.QuoteMeta(q)
	if len(q) > 80 {
		q = strings.TrimRight(q[:80], `\`)
	}
	if q == "" {
		return ""
	}
	return `["name"~"` + q + `",i]`
}

// OverpassClient posts QL statements to an Overpass endpoint. A shared
// limiter keeps tile loops and corridor queries from hammering the public
// instance; failures back off exponentially and the last error wins.
type OverpassClient struct {
	url       string
	http      *http.Client
	limiter   *rate.Limiter
	retries   int
	retryBase time.Duration
	timeout   time.Duration
	log       zerolog.Logger
}

func NewOverpassClient(cfg config.OverpassCfg, hc *http.Client, log zerolog.Logger) *OverpassClient {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 4
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 750 * time.Millisecond
	}
	throttle := cfg.Throttle
	if throttle <= 0 {
		throttle = 200 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if hc == nil {
		hc = httpclient.NewOutbound(timeout + 10*time.Second)
	}
	return &OverpassClient{
		url:       cfg.URL,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Every(throttle), 1),
		retries:   retries,
		retryBase: retryBase,
		timeout:   timeout,
		log:       log.With().Str("component", "overpass").Logger(),
	}
}

// BBoxQL and AroundQL bind the client's server-side timeout into the
// statement header.
func (c *OverpassClient) BBoxQL(b model.BBox, filters []string, nameClause string) string {
	return buildBBoxQL(b, filters, nameClause, c.timeout)
}

func (c *OverpassClient) AroundQL(coords []model.LatLng, radiusM float64, filters []string, nameClause string) string {
	return buildAroundQL(coords, radiusM, filters, nameClause, c.timeout)
}

// Query runs one QL statement and decodes the element list. Every failure
// mode retries: 429/5xx, transport errors, and bad JSON all get the same
// backoff, because the public Overpass instances fail in all three ways
// under load.
func (c *OverpassClient) Query(ctx context.Context, ql string) ([]overpassElement, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			c.log.Debug().Int("attempt", attempt).Dur("wait", wait).Err(lastErr).Msg("retrying overpass query")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		els, err := c.post(ctx, ql)
		if err == nil {
			return els, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *OverpassClient) post(ctx context.Context, ql string) ([]overpassElement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(ql))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("overpass", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("overpass: status %d", resp.StatusCode)
	}
	var out overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("overpass: decode response: %w", err)
	}
	return out.Elements, nil
}
