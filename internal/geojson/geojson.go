// Package geojson carries the minimal GeoJSON plumbing shared by the overlay
// parsers and the corridor code: geometry decoding, coordinate flattening and
// bounding boxes. Wire order is [lng, lat] throughout.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
)

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometries  []Geometry      `json:"geometries,omitempty"`
}

type Feature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Geometry   *Geometry       `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func ParseFeatureCollection(data []byte) (*FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("geojson decode: %w", err)
	}
	return &fc, nil
}

func Point(lng, lat float64) *Geometry {
	raw, _ := json.Marshal([2]float64{lng, lat})
	return &Geometry{Type: "Point", Coordinates: raw}
}

// PointCoords returns (lng, lat) for Point geometries.
func (g *Geometry) PointCoords() (lng, lat float64, ok bool) {
	if g == nil || g.Type != "Point" {
		return 0, 0, false
	}
	var c []float64
	if err := json.Unmarshal(g.Coordinates, &c); err != nil || len(c) < 2 {
		return 0, 0, false
	}
	return c[0], c[1], true
}

// FlatCoords walks any geometry type and returns every (lng, lat) pair it
// contains. Malformed nesting yields whatever could be read.
func (g *Geometry) FlatCoords() [][2]float64 {
	if g == nil {
		return nil
	}
	if g.Type == "GeometryCollection" {
		var out [][2]float64
		for i := range g.Geometries {
			out = append(out, g.Geometries[i].FlatCoords()...)
		}
		return out
	}
	var tree any
	if err := json.Unmarshal(g.Coordinates, &tree); err != nil {
		return nil
	}
	var out [][2]float64
	collectCoords(tree, &out)
	return out
}

func collectCoords(v any, out *[][2]float64) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if f0, ok := arr[0].(float64); ok {
		if len(arr) >= 2 {
			if f1, ok := arr[1].(float64); ok {
				*out = append(*out, [2]float64{f0, f1})
			}
		}
		return
	}
	for _, child := range arr {
		collectCoords(child, out)
	}
}

// Bounds returns (minLng, minLat, maxLng, maxLat) over every coordinate in
// the geometry; ok is false for empty or unreadable geometries.
func (g *Geometry) Bounds() (minLng, minLat, maxLng, maxLat float64, ok bool) {
	coords := g.FlatCoords()
	if len(coords) == 0 {
		return 0, 0, 0, 0, false
	}
	minLng, minLat = math.Inf(1), math.Inf(1)
	maxLng, maxLat = math.Inf(-1), math.Inf(-1)
	for _, c := range coords {
		minLng = math.Min(minLng, c[0])
		maxLng = math.Max(maxLng, c[0])
		minLat = math.Min(minLat, c[1])
		maxLat = math.Max(maxLat, c[1])
	}
	return minLng, minLat, maxLng, maxLat, true
}
