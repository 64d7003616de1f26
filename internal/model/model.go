// Package model holds the wire entities shared across the engine: routes,
// corridor packs, places, overlay events and the bundle manifest. Coordinates
// are WGS-84 decimal degrees, (lat, lng) ordered internally; wire encodings
// follow their native convention (GeoJSON is [lng, lat]).
package model

import (
	"math"
	"time"

	"github.com/roamtrip/roampack/internal/geojson"
)

// BBox is (minLng, minLat, maxLng, maxLat).
type BBox [4]float64

func NewBBox(minLng, minLat, maxLng, maxLat float64) BBox {
	return BBox{minLng, minLat, maxLng, maxLat}
}

func (b BBox) MinLng() float64 { return b[0] }
func (b BBox) MinLat() float64 { return b[1] }
func (b BBox) MaxLng() float64 { return b[2] }
func (b BBox) MaxLat() float64 { return b[3] }

func (b BBox) IsZero() bool {
	return b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

func (b BBox) Contains(lat, lng float64) bool {
	return lng >= b[0] && lng <= b[2] && lat >= b[1] && lat <= b[3]
}

func (b BBox) Intersects(o BBox) bool {
	return b[0] <= o[2] && b[2] >= o[0] && b[1] <= o[3] && b[3] >= o[1]
}

// DiagonalDeg is the planar diagonal in degrees, used to decide whether a
// query is "large enough" to admit events without geometry.
func (b BBox) DiagonalDeg() float64 {
	dx := b[2] - b[0]
	dy := b[3] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type StopType string

const (
	StopStart StopType = "start"
	StopPOI   StopType = "poi"
	StopVia   StopType = "via"
	StopEnd   StopType = "end"
)

type Stop struct {
	ID   string   `json:"id,omitempty"`
	Type StopType `json:"type,omitempty"`
	Lat  float64  `json:"lat"`
	Lng  float64  `json:"lng"`
	Name string   `json:"name,omitempty"`
}

type NavRequest struct {
	Profile  string         `json:"profile,omitempty"`
	Prefs    map[string]any `json:"prefs,omitempty"`
	Stops    []Stop         `json:"stops"`
	Avoid    []string       `json:"avoid,omitempty"`
	DepartAt string         `json:"depart_at,omitempty"`
}

// PlacesQuery is the wire shape of a place search. Exactly one of BBox,
// Center+RadiusM, or Query must be set for the query to be answerable.
type PlacesQuery struct {
	BBox       *BBox    `json:"bbox,omitempty"`
	Center     *LatLng  `json:"center,omitempty"`
	RadiusM    float64  `json:"radius_m,omitempty"`
	Query      string   `json:"query,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type Maneuver struct {
	Type          string    `json:"type"`
	Modifier      *string   `json:"modifier"`
	Location      []float64 `json:"location"` // [lng, lat]
	BearingBefore float64   `json:"bearing_before"`
	BearingAfter  float64   `json:"bearing_after"`
	Exit          *int      `json:"exit,omitempty"`
}

type NavStep struct {
	Maneuver  Maneuver `json:"maneuver"`
	Name      string   `json:"name"`
	DistanceM float64  `json:"distance_m"`
	DurationS float64  `json:"duration_s"`
	Polyline6 string   `json:"polyline6"`
}

type NavLeg struct {
	DistanceM float64   `json:"distance_m"`
	DurationS float64   `json:"duration_s"`
	Geometry  string    `json:"geometry"`
	Steps     []NavStep `json:"steps"`
}

type NavRoute struct {
	RouteKey    string    `json:"route_key"`
	Profile     string    `json:"profile"`
	DistanceM   float64   `json:"distance_m"`
	DurationS   float64   `json:"duration_s"`
	Geometry    string    `json:"geometry"` // polyline6
	BBox        BBox      `json:"bbox"`
	Legs        []NavLeg  `json:"legs"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
	AlgoVersion string    `json:"algo_version"`
}

// Corridor edge flag bits.
const (
	EdgeFlagToll     = 1
	EdgeFlagFerry    = 2
	EdgeFlagUnsealed = 4
)

type CorridorNode struct {
	ID  int64   `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type CorridorEdge struct {
	A         int64 `json:"a"`
	B         int64 `json:"b"`
	DistanceM int   `json:"distance_m"`
	DurationS int   `json:"duration_s"`
	Flags     int   `json:"flags"`
}

type CorridorGraphPack struct {
	CorridorKey string         `json:"corridor_key"`
	RouteKey    string         `json:"route_key"`
	Profile     string         `json:"profile"`
	AlgoVersion string         `json:"algo_version"`
	BBox        BBox           `json:"bbox"`
	Nodes       []CorridorNode `json:"nodes"`
	Edges       []CorridorEdge `json:"edges"`
}

// CorridorGraphMeta is the pack header without the node and edge lists.
// Ensure responses return this so clients are not shipped a full graph
// they only wanted the key for.
type CorridorGraphMeta struct {
	CorridorKey string `json:"corridor_key"`
	RouteKey    string `json:"route_key"`
	Profile     string `json:"profile"`
	BBox        BBox   `json:"bbox"`
	NodeCount   int    `json:"node_count"`
	EdgeCount   int    `json:"edge_count"`
	AlgoVersion string `json:"algo_version"`
}

func (p *CorridorGraphPack) Meta() CorridorGraphMeta {
	return CorridorGraphMeta{
		CorridorKey: p.CorridorKey,
		RouteKey:    p.RouteKey,
		Profile:     p.Profile,
		BBox:        p.BBox,
		NodeCount:   len(p.Nodes),
		EdgeCount:   len(p.Edges),
		AlgoVersion: p.AlgoVersion,
	}
}

type PlaceItem struct {
	ID       string         `json:"id"` // "osm:<type>:<osm_id>" or "mapbox:<id>"
	Name     string         `json:"name"`
	Lat      float64        `json:"lat"`
	Lng      float64        `json:"lng"`
	Category Category       `json:"category"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type PlacesPack struct {
	PlacesKey   string         `json:"places_key"`
	Req         map[string]any `json:"req"`
	Items       []PlaceItem    `json:"items"`
	Provider    string         `json:"provider"`
	CreatedAt   time.Time      `json:"created_at"`
	AlgoVersion string         `json:"algo_version"`
}

type TrafficType string

const (
	TrafficClosure    TrafficType = "closure"
	TrafficRoadworks  TrafficType = "roadworks"
	TrafficFlooding   TrafficType = "flooding"
	TrafficCrash      TrafficType = "crash"
	TrafficCongestion TrafficType = "congestion"
	TrafficHazard     TrafficType = "hazard"
	TrafficEventType  TrafficType = "event"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

type TrafficEvent struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Feed        string            `json:"feed,omitempty"`
	Type        TrafficType       `json:"type"`
	Severity    Severity          `json:"severity"`
	Headline    string            `json:"headline"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url,omitempty"`
	IssuedAt    *time.Time        `json:"issued_at,omitempty"`
	StartAt     *time.Time        `json:"start_at,omitempty"`
	EndAt       *time.Time        `json:"end_at,omitempty"`
	Geometry    *geojson.Geometry `json:"geometry,omitempty"`
	BBox        *BBox             `json:"bbox,omitempty"`
	Region      string            `json:"region"`
	Raw         map[string]any    `json:"raw,omitempty"`
}

type HazardKind string

const (
	HazardBushfire   HazardKind = "bushfire"
	HazardFlood      HazardKind = "flood"
	HazardStorm      HazardKind = "storm"
	HazardCyclone    HazardKind = "cyclone"
	HazardHeatwave   HazardKind = "heatwave"
	HazardEarthquake HazardKind = "earthquake"
	HazardTsunami    HazardKind = "tsunami"
	HazardWeather    HazardKind = "weather"
	HazardGeneric    HazardKind = "hazard"
)

type CAPSeverity string

const (
	CAPSevExtreme  CAPSeverity = "extreme"
	CAPSevSevere   CAPSeverity = "severe"
	CAPSevModerate CAPSeverity = "moderate"
	CAPSevMinor    CAPSeverity = "minor"
	CAPSevUnknown  CAPSeverity = "unknown"
)

type CAPUrgency string

const (
	CAPUrgImmediate CAPUrgency = "immediate"
	CAPUrgExpected  CAPUrgency = "expected"
	CAPUrgFuture    CAPUrgency = "future"
	CAPUrgPast      CAPUrgency = "past"
	CAPUrgUnknown   CAPUrgency = "unknown"
)

type CAPCertainty string

const (
	CAPCerObserved CAPCertainty = "observed"
	CAPCerLikely   CAPCertainty = "likely"
	CAPCerPossible CAPCertainty = "possible"
	CAPCerUnlikely CAPCertainty = "unlikely"
	CAPCerUnknown  CAPCertainty = "unknown"
)

type HazardEvent struct {
	ID                string            `json:"id"`
	Source            string            `json:"source"`
	Kind              HazardKind        `json:"kind"`
	Severity          CAPSeverity       `json:"severity"`
	Urgency           CAPUrgency        `json:"urgency"`
	Certainty         CAPCertainty      `json:"certainty"`
	EffectivePriority float64           `json:"effective_priority"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	URL               string            `json:"url,omitempty"`
	IssuedAt          *time.Time        `json:"issued_at,omitempty"`
	StartAt           *time.Time        `json:"start_at,omitempty"`
	EndAt             *time.Time        `json:"end_at,omitempty"`
	Geometry          *geojson.Geometry `json:"geometry,omitempty"`
	BBox              *BBox             `json:"bbox,omitempty"`
	Region            string            `json:"region"`
	Raw               map[string]any    `json:"raw,omitempty"`
}

type TrafficPack struct {
	TrafficKey  string         `json:"traffic_key"`
	BBox        BBox           `json:"bbox"`
	Items       []TrafficEvent `json:"items"`
	Warnings    []string       `json:"warnings"`
	Provider    string         `json:"provider"`
	CreatedAt   time.Time      `json:"created_at"`
	AlgoVersion string         `json:"algo_version"`
}

type HazardsPack struct {
	HazardsKey  string        `json:"hazards_key"`
	BBox        BBox          `json:"bbox"`
	Items       []HazardEvent `json:"items"`
	Warnings    []string      `json:"warnings"`
	Provider    string        `json:"provider"`
	CreatedAt   time.Time     `json:"created_at"`
	AlgoVersion string        `json:"algo_version"`
}

type AssetStatus string

const (
	AssetMissing AssetStatus = "missing"
	AssetReady   AssetStatus = "ready"
	AssetError   AssetStatus = "error"
)

type ManifestAsset struct {
	Key    string      `json:"key,omitempty"`
	Status AssetStatus `json:"status"`
	Bytes  int64       `json:"bytes"`
}

type OfflineBundleManifest struct {
	PlanID     string        `json:"plan_id"`
	RouteKey   string        `json:"route_key"`
	Styles     []string      `json:"styles,omitempty"`
	Navpack    ManifestAsset `json:"navpack"`
	Corridor   ManifestAsset `json:"corridor"`
	Places     ManifestAsset `json:"places"`
	Traffic    ManifestAsset `json:"traffic"`
	Hazards    ManifestAsset `json:"hazards"`
	BytesTotal int64         `json:"bytes_total"`
	CreatedAt  time.Time     `json:"created_at"`
}
