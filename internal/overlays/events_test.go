package overlays

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/model"
)

func TestStableID(t *testing.T) {
	a := stableID("nsw_traffic", "fires", "123")
	b := stableID("nsw_traffic", "fires", "123")
	if a != b {
		t.Fatalf("same parts hashed differently: %q vs %q", a, b)
	}
	if len(a) != 24 {
		t.Fatalf("id length = %d, want 24", len(a))
	}
	if a == stableID("nsw_traffic", "fires", "124") {
		t.Fatal("different parts produced the same id")
	}
	// The separator keeps part boundaries in the hash.
	if stableID("ab", "c") == stableID("a", "bc") {
		t.Fatal("part boundaries are not separated")
	}
}

func TestParseWhenDialects(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-10T02:15:00Z", time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC)},
		{"2025-03-10 02:15:00", time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC)},
		{"2025-03-10", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"25/12/2024 14:30", time.Date(2024, 12, 25, 14, 30, 0, 0, time.UTC)},
		{"3/2/2025 9:05:00 AM", time.Date(2025, 2, 3, 9, 5, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := parseWhen(c.in)
		if got == nil {
			t.Errorf("parseWhen(%q) = nil", c.in)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("parseWhen(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if parseWhen("not a date") != nil {
		t.Fatal("garbage parsed as a date")
	}
	if parseWhen("  ") != nil {
		t.Fatal("blank parsed as a date")
	}
}

func TestParseWhenOrEpochMillis(t *testing.T) {
	got := parseWhenOrEpoch(gjson.Parse("1735000000000"))
	if got == nil || got.Year() != 2024 {
		t.Fatalf("epoch millis = %v", got)
	}
	if parseWhenOrEpoch(gjson.Parse("0")) != nil {
		t.Fatal("zero epoch should be nil")
	}
	got = parseWhenOrEpoch(gjson.Parse(`"2025-03-10T02:15:00Z"`))
	if got == nil || got.Month() != time.March {
		t.Fatalf("string timestamp = %v", got)
	}
}

func TestExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	if !expired(&past) {
		t.Fatal("past end not expired")
	}
	if expired(&future) {
		t.Fatal("future end expired")
	}
	if expired(nil) {
		t.Fatal("nil end expired")
	}
}

func TestDecodeGeometryAndBBox(t *testing.T) {
	raw := gjson.Parse(`{"type":"LineString","coordinates":[[152.9,-27.5],[153.1,-27.3]]}`)
	g := decodeGeometry(raw)
	if g == nil || g.Type != "LineString" {
		t.Fatalf("geometry = %+v", g)
	}
	bb := bboxOf(g)
	if bb == nil {
		t.Fatal("bbox = nil")
	}
	want := model.NewBBox(152.9, -27.5, 153.1, -27.3)
	if *bb != want {
		t.Fatalf("bbox = %v, want %v", *bb, want)
	}

	if decodeGeometry(gjson.Parse(`null`)) != nil {
		t.Fatal("null decoded as geometry")
	}
	if decodeGeometry(gjson.Parse(`{"coordinates":[1,2]}`)) != nil {
		t.Fatal("typeless object decoded as geometry")
	}
}

func TestPolygonGeomShape(t *testing.T) {
	one := polygonGeom([][][]float64{{{152, -27}, {153, -27}, {153, -26}, {152, -27}}})
	if one == nil || one.Type != "Polygon" {
		t.Fatalf("single ring = %+v", one)
	}
	two := polygonGeom([][][]float64{
		{{152, -27}, {153, -27}, {153, -26}, {152, -27}},
		{{140, -35}, {141, -35}, {141, -34}, {140, -35}},
	})
	if two == nil || two.Type != "MultiPolygon" {
		t.Fatalf("disjoint rings = %+v", two)
	}
}

func TestBBoxKeyPart(t *testing.T) {
	b := model.NewBBox(152.9, -27.5, 153.1, -27.3)
	if got := bboxKeyPart(&b); got != "152.90000,-27.50000,153.10000,-27.30000" {
		t.Fatalf("bboxKeyPart = %q", got)
	}
	if bboxKeyPart(nil) != "" {
		t.Fatal("nil bbox should render empty")
	}
}
