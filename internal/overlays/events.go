package overlays

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/geojson"
	"github.com/roamtrip/roampack/internal/model"
)

// stableID derives a deterministic event id from identifying parts. Each
// part is followed by a unit separator so ("ab","c") and ("a","bc") hash
// differently. 24 hex chars is plenty for dedup within a pack.
func stableID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// truncate bounds the bytes fed into stableID so huge geometry or
// description blobs cannot dominate the hash input.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var whenLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2/1/2006 15:04:05",
	"2/1/2006 3:04:05 PM",
	"2/1/2006 15:04",
	"2/1/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// parseWhen turns the timestamp dialects the feeds use into UTC time.
// Offset-less stamps are taken as UTC; the skew is hours at worst and
// nothing downstream does sub-day arithmetic on them.
func parseWhen(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// parseWhenOrEpoch also accepts ArcGIS-style epoch milliseconds.
func parseWhenOrEpoch(v gjson.Result) *time.Time {
	if v.Type == gjson.Number {
		n := v.Float()
		if n > 1e9 {
			t := time.UnixMilli(int64(n)).UTC()
			return &t
		}
		if n > 0 {
			t := time.Unix(int64(n), 0).UTC()
			return &t
		}
		return nil
	}
	return parseWhen(v.String())
}

func expired(end *time.Time) bool {
	return end != nil && time.Now().UTC().After(*end)
}

// firstWhen returns the first non-nil timestamp.
func firstWhen(times ...*time.Time) *time.Time {
	for _, t := range times {
		if t != nil {
			return t
		}
	}
	return nil
}

// bboxKeyPart renders a bbox for use as a stableID part.
func bboxKeyPart(b *model.BBox) string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.MinLng(), b.MinLat(), b.MaxLng(), b.MaxLat())
}

// firstString returns the first non-empty string among the named fields.
func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

// decodeGeometry unmarshals a GeoJSON geometry subtree. Returns nil when
// the subtree is absent, null, or malformed; parsers treat that as "no
// footprint" rather than an error.
func decodeGeometry(raw gjson.Result) *geojson.Geometry {
	if !raw.IsObject() {
		return nil
	}
	var g geojson.Geometry
	if err := json.Unmarshal([]byte(raw.Raw), &g); err != nil {
		return nil
	}
	if g.Type == "" {
		return nil
	}
	return &g
}

// bboxOf computes the envelope of a geometry, nil when it has no coords.
func bboxOf(g *geojson.Geometry) *model.BBox {
	if g == nil {
		return nil
	}
	minLng, minLat, maxLng, maxLat, ok := g.Bounds()
	if !ok {
		return nil
	}
	b := model.NewBBox(minLng, minLat, maxLng, maxLat)
	return &b
}

// pointGeom builds a GeoJSON point.
func pointGeom(lng, lat float64) *geojson.Geometry {
	return geojson.Point(lng, lat)
}

// lineGeom builds a GeoJSON LineString from (lng,lat) pairs.
func lineGeom(coords [][2]float64) *geojson.Geometry {
	arr := make([][]float64, len(coords))
	for i, c := range coords {
		arr[i] = []float64{c[0], c[1]}
	}
	raw, err := json.Marshal(arr)
	if err != nil {
		return nil
	}
	return &geojson.Geometry{Type: "LineString", Coordinates: raw}
}

// polygonGeom builds a Polygon from one ring, or a MultiPolygon when the
// source carries several disjoint rings.
func polygonGeom(rings [][][]float64) *geojson.Geometry {
	if len(rings) == 0 {
		return nil
	}
	var (
		typ    string
		coords any
	)
	if len(rings) == 1 {
		typ = "Polygon"
		coords = rings
	} else {
		typ = "MultiPolygon"
		polys := make([][][][]float64, len(rings))
		for i, r := range rings {
			polys[i] = [][][]float64{r}
		}
		coords = polys
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil
	}
	return &geojson.Geometry{Type: typ, Coordinates: raw}
}

// rawMap extracts the upstream record as a generic map so packs keep the
// vendor fields alongside the normalized ones.
func rawMap(v gjson.Result) map[string]any {
	if !v.IsObject() {
		return nil
	}
	if m, ok := v.Value().(map[string]any); ok {
		return m
	}
	return nil
}

// joinNonEmpty joins the non-empty parts with sep.
func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
