package overlays

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/model"
)

func newHazards(t *testing.T, feeds config.FeedsCfg, oc config.OverlaysCfg) *Hazards {
	t.Helper()
	cfg := config.Config{Feeds: feeds, Overlays: oc}
	return NewHazards(newTestStore(t), nil, &http.Client{Timeout: 5 * time.Second}, cfg, zerolog.Nop())
}

const rfsFixture = `{"features":[
 {"geometry":{"type":"Point","coordinates":[151.2,-33.85]},
  "properties":{"title":"Hilltop Rd Fire","alert_level":"Emergency Warning",
   "description":"Out of control","pubDate":"10/03/2025 11:15:00 AM","link":"https://rfs.example/1"}},
 {"properties":{"title":"Backburn at Colo","alert_level":"Advice","latitude":-33.4,"longitude":150.8}}
]}`

func TestHazardsPollFanOut(t *testing.T) {
	var bomCalls, rfsCalls atomic.Int64
	bom := serveJSON(t, &bomCalls, func() string { return bomFixture })
	rfs := serveJSON(t, &rfsCalls, func() string { return rfsFixture })

	h := newHazards(t, config.FeedsCfg{
		BOMRSS:    map[string]string{"nsw": bom.URL},
		NSWRFSURL: rfs.URL,
	}, config.OverlaysCfg{})

	pack, err := h.Poll(context.Background(), bbSydney, nil, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pack.Provider != "nsw" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Warnings) != 0 {
		t.Fatalf("warnings = %v", pack.Warnings)
	}

	// The BOM item has no geometry and rides the loose rule (the Sydney
	// box is regional scale); the first RFS fire sits inside the box; the
	// Colo fire sits outside and is dropped.
	if len(pack.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(pack.Items))
	}
	bySource := map[string]model.HazardEvent{}
	for _, ev := range pack.Items {
		bySource[ev.Source] = ev
	}
	if _, ok := bySource["bom_rss_nsw"]; !ok {
		t.Fatal("bom item missing")
	}
	fire, ok := bySource["nsw_rfs"]
	if !ok {
		t.Fatal("rfs item missing")
	}
	if fire.Severity != model.CAPSevSevere || fire.Urgency != model.CAPUrgImmediate || fire.Certainty != model.CAPCerObserved {
		t.Fatalf("fire dims = %s/%s/%s", fire.Severity, fire.Urgency, fire.Certainty)
	}
	if fire.EffectivePriority != 0.92 {
		t.Fatalf("fire priority = %v", fire.EffectivePriority)
	}

	// Cached on the second read.
	again, err := h.Poll(context.Background(), bbSydney, nil, 0, 0)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if !again.CreatedAt.Equal(pack.CreatedAt) {
		t.Fatal("second poll rebuilt instead of serving the cached pack")
	}
	if bomCalls.Load() != 1 || rfsCalls.Load() != 1 {
		t.Fatalf("bom/rfs calls = %d/%d", bomCalls.Load(), rfsCalls.Load())
	}
}

func TestHazardsSourceFilter(t *testing.T) {
	var bomCalls, rfsCalls atomic.Int64
	bom := serveJSON(t, &bomCalls, func() string { return bomFixture })
	rfs := serveJSON(t, &rfsCalls, func() string { return rfsFixture })

	h := newHazards(t, config.FeedsCfg{
		BOMRSS:    map[string]string{"nsw": bom.URL},
		NSWRFSURL: rfs.URL,
	}, config.OverlaysCfg{})

	full, err := h.Poll(context.Background(), bbSydney, nil, 0, 0)
	if err != nil {
		t.Fatalf("unfiltered poll: %v", err)
	}
	filtered, err := h.Poll(context.Background(), bbSydney, []string{"NSW_RFS "}, 0, 0)
	if err != nil {
		t.Fatalf("filtered poll: %v", err)
	}

	if filtered.HazardsKey == full.HazardsKey {
		t.Fatal("filtered poll shares the unfiltered key")
	}
	if len(filtered.Items) != 1 || filtered.Items[0].Source != "nsw_rfs" {
		t.Fatalf("filtered items = %+v", filtered.Items)
	}
	// The filter keeps the BOM fetcher out of the fan-out entirely.
	if bomCalls.Load() != 1 {
		t.Fatalf("bom calls = %d, want 1 (unfiltered poll only)", bomCalls.Load())
	}
	if rfsCalls.Load() != 2 {
		t.Fatalf("rfs calls = %d, want 2", rfsCalls.Load())
	}
}

func TestHazardsDEAProviderSuffix(t *testing.T) {
	var deaCalls atomic.Int64
	dea := serveJSON(t, &deaCalls, func() string {
		return `{"type":"FeatureCollection","features":[
		 {"geometry":{"type":"Point","coordinates":[152.95,-27.42]},
		  "properties":{"confidence":92,"hours_since_hotspot":3.0,"satellite":"NOAA 20","sensor":"VIIRS",
		   "temp_kelvin":367.2,"power":54.27,"fire_category_name":"Vegetation fire",
		   "australian_state":"QLD","datetime":"2025-03-10T01:05:00Z","latitude":-27.42,"longitude":152.95}}
		]}`
	})

	h := newHazards(t, config.FeedsCfg{DEAHotspotsURL: dea.URL}, config.OverlaysCfg{})
	pack, err := h.Poll(context.Background(), bbBrisbane, nil, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pack.Provider != "qld+dea" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Items) != 1 {
		t.Fatalf("items = %d", len(pack.Items))
	}
	ev := pack.Items[0]
	if ev.Kind != model.HazardBushfire || ev.Severity != model.CAPSevSevere || ev.Urgency != model.CAPUrgImmediate {
		t.Fatalf("hotspot graded %s/%s/%s", ev.Kind, ev.Severity, ev.Urgency)
	}
	if !strings.Contains(ev.Description, "Confidence: 92%") || !strings.Contains(ev.Description, "3h ago") {
		t.Fatalf("description = %q", ev.Description)
	}
}

func TestHazardsCAPFeedFallsBackToRSS(t *testing.T) {
	var calls atomic.Int64
	srv := serveJSON(t, &calls, func() string { return bomFixture })

	h := newHazards(t, config.FeedsCfg{QLDQFESCapURL: srv.URL}, config.OverlaysCfg{})
	pack, err := h.Poll(context.Background(), bbBrisbane, nil, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(pack.Items) != 1 {
		t.Fatalf("items = %d, want the rss-parsed warning", len(pack.Items))
	}
	ev := pack.Items[0]
	if ev.Source != "qld_qfes" || ev.Region != "qld" || ev.Kind != model.HazardStorm {
		t.Fatalf("fallback event = %s/%s/%s", ev.Source, ev.Region, ev.Kind)
	}
}

func TestHazardsSourceFailureBecomesWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	h := newHazards(t, config.FeedsCfg{
		BOMRSS: map[string]string{"nsw": srv.URL},
	}, config.OverlaysCfg{})

	pack, err := h.Poll(context.Background(), bbSydney, nil, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(pack.Items) != 0 {
		t.Fatalf("items = %d", len(pack.Items))
	}
	if len(pack.Warnings) != 1 || !strings.HasPrefix(pack.Warnings[0], "hazards:bom_rss_nsw failed:") {
		t.Fatalf("warnings = %v", pack.Warnings)
	}
}

func TestHazardsPollNoStates(t *testing.T) {
	h := newHazards(t, config.FeedsCfg{}, config.OverlaysCfg{})
	pack, err := h.Poll(context.Background(), bbTasmanSea, nil, 0, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pack.Provider != "no_states" {
		t.Fatalf("provider = %q", pack.Provider)
	}
	if len(pack.Warnings) != 1 || pack.Warnings[0] != "No Australian states overlap this bbox." {
		t.Fatalf("warnings = %v", pack.Warnings)
	}
}

func TestParseNSWRFS(t *testing.T) {
	events := parseNSWRFS([]byte(rfsFixture))
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}

	fire := events[0]
	if fire.Severity != model.CAPSevSevere || fire.Urgency != model.CAPUrgImmediate {
		t.Fatalf("emergency warning graded %s/%s", fire.Severity, fire.Urgency)
	}
	if fire.Kind != model.HazardBushfire || fire.Region != "nsw" {
		t.Fatalf("kind/region = %s/%s", fire.Kind, fire.Region)
	}
	if fire.IssuedAt == nil || fire.IssuedAt.Month() != time.March || fire.IssuedAt.Hour() != 11 {
		t.Fatalf("pubDate = %v", fire.IssuedAt)
	}

	advice := events[1]
	if advice.Severity != model.CAPSevModerate || advice.Urgency != model.CAPUrgExpected {
		t.Fatalf("advice graded %s/%s", advice.Severity, advice.Urgency)
	}
	if advice.Geometry == nil || advice.Geometry.Type != "Point" {
		t.Fatalf("advice geometry = %+v (should come from lat/lng props)", advice.Geometry)
	}
}

func TestParseVicEmergency(t *testing.T) {
	body := `[
	 {"incidentNo":"VE1","name":"Grass Fire","incidentLocation":"Axedale","incidentType":"Fire",
	  "incidentStatus":"Emergency Warning","incidentSize":"20 HA.","municipality":"Bendigo",
	  "agency":"CFA","resourceCount":12,"lastUpdatedDt":1735000000000,
	  "originDateTime":"01/01/2025 10:00:00","latitude":-36.7,"longitude":144.5,"category1":"Fire"},
	 {"incidentNo":"VE2","incidentType":"Tree Down","incidentStatus":"Under Control",
	  "incidentSize":"0.00 HA.","latitude":-37.0,"longitude":144.8}
	]`
	events := parseVicEmergency([]byte(body))
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}

	fire := events[0]
	if fire.Title != "Grass Fire — Axedale" {
		t.Fatalf("title = %q", fire.Title)
	}
	if fire.Severity != model.CAPSevSevere || fire.Urgency != model.CAPUrgImmediate || fire.Certainty != model.CAPCerObserved {
		t.Fatalf("dims = %s/%s/%s", fire.Severity, fire.Urgency, fire.Certainty)
	}
	if fire.Kind != model.HazardBushfire {
		t.Fatalf("kind = %s", fire.Kind)
	}
	if !strings.Contains(fire.Description, "Size: 20 HA.") || !strings.Contains(fire.Description, "Resources: 12") {
		t.Fatalf("description = %q", fire.Description)
	}
	if fire.IssuedAt == nil || fire.IssuedAt.Year() != 2024 {
		t.Fatalf("issued from epoch millis = %v", fire.IssuedAt)
	}
	if fire.ID != stableID("vic_emergency", "VE1", "01/01/2025 10:00:00") {
		t.Fatalf("id = %q", fire.ID)
	}

	done := events[1]
	if done.Severity != model.CAPSevMinor || done.Urgency != model.CAPUrgPast {
		t.Fatalf("controlled incident graded %s/%s", done.Severity, done.Urgency)
	}
	if strings.Contains(done.Description, "0.00 HA.") {
		t.Fatal("zero size should be suppressed")
	}
}

func TestParseSACFS(t *testing.T) {
	body := `[
	 {"IncidentNo":"CFS1","Type":"Grass Fire","Status":"GOING","Location_name":"Murray Bridge",
	  "Level":"3","FBD":"Murraylands","Resources":8,"Aircraft":2,"Date":"25/12/2024","Time":"14:30",
	  "Message_link":"<a href='https://cfs.sa.gov.au/incident/123.html'>More</a>","Location":"-35.12,139.27"},
	 {"IncidentNo":"CFS2","Type":"Vehicle Accident","Status":"SAFE","Location":"-34.9,138.6"}
	]`
	events := parseSACFS([]byte(body))
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}

	fire := events[0]
	if fire.Title != "Grass Fire — Murray Bridge" {
		t.Fatalf("title = %q", fire.Title)
	}
	if fire.Severity != model.CAPSevExtreme || fire.Urgency != model.CAPUrgImmediate {
		t.Fatalf("level 3 graded %s/%s", fire.Severity, fire.Urgency)
	}
	if fire.EffectivePriority != 1.0 {
		t.Fatalf("priority = %v", fire.EffectivePriority)
	}
	if fire.URL != "https://cfs.sa.gov.au/incident/123.html" {
		t.Fatalf("url = %q", fire.URL)
	}
	if fire.IssuedAt == nil || fire.IssuedAt.Day() != 25 || fire.IssuedAt.Hour() != 14 {
		t.Fatalf("issued = %v", fire.IssuedAt)
	}
	lng, lat, ok := fire.Geometry.PointCoords()
	if !ok || lng != 139.27 || lat != -35.12 {
		t.Fatalf("point = (%v, %v)", lng, lat)
	}
	if !strings.Contains(fire.Description, "District: Murraylands") || !strings.Contains(fire.Description, "Aircraft: 2") {
		t.Fatalf("description = %q", fire.Description)
	}

	crash := events[1]
	if crash.Kind != model.HazardGeneric {
		t.Fatalf("vehicle accident kind = %s", crash.Kind)
	}
	if crash.Severity != model.CAPSevMinor || crash.Urgency != model.CAPUrgPast {
		t.Fatalf("safe incident graded %s/%s", crash.Severity, crash.Urgency)
	}
}

func TestParseTASAlerts(t *testing.T) {
	body := `{"features":[
	 {"attributes":{"OBJECTID":7,"ALERT_TYPE":"Emergency Warning","ALERT_SUMMARY":"Fire at Ouse",
	   "AREA_DESCRIPTION":"Ouse","EVENT":"Bushfire","TASALERT_LINK":"https://alert.tas.gov.au/x",
	   "SENDER_NAME":"TFS","EFFECTIVE_FROM_DATE":1735000000000,"EXPIRES_DATE":4102444800000},
	  "geometry":{"rings":[[[146.7,-42.5],[146.8,-42.5],[146.8,-42.4],[146.7,-42.5]]]}},
	 {"attributes":{"OBJECTID":8,"ALERT_TYPE":"Advice","EXPIRES_DATE":1000000000001}}
	]}`
	events := parseTASAlerts([]byte(body))
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (expired alert pruned)", len(events))
	}
	ev := events[0]

	if ev.Title != "Emergency Warning — Ouse" {
		t.Fatalf("title = %q", ev.Title)
	}
	if ev.Severity != model.CAPSevExtreme || ev.Urgency != model.CAPUrgImmediate || ev.Certainty != model.CAPCerObserved {
		t.Fatalf("dims = %s/%s/%s", ev.Severity, ev.Urgency, ev.Certainty)
	}
	if ev.Kind != model.HazardBushfire || ev.Region != "tas" {
		t.Fatalf("kind/region = %s/%s", ev.Kind, ev.Region)
	}
	if ev.Geometry == nil || ev.Geometry.Type != "Polygon" {
		t.Fatalf("geometry = %+v", ev.Geometry)
	}
	if ev.URL != "https://alert.tas.gov.au/x" {
		t.Fatalf("url = %q", ev.URL)
	}
	if ev.StartAt == nil || ev.StartAt.Year() != 2024 {
		t.Fatalf("effective = %v", ev.StartAt)
	}
	if !strings.Contains(ev.Description, "Source: TFS") {
		t.Fatalf("description = %q", ev.Description)
	}
}

func TestParseDEAHotspotsFilters(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
	 {"geometry":{"type":"Point","coordinates":[152.95,-27.42]},
	  "properties":{"confidence":92,"hours_since_hotspot":3.0,"satellite":"NOAA 20","sensor":"VIIRS",
	   "temp_kelvin":367.2,"power":54.27,"fire_category_name":"Vegetation fire","australian_state":"QLD",
	   "datetime":"2025-03-10T01:05:00Z","latitude":-27.42,"longitude":152.95}},
	 {"geometry":{"type":"Point","coordinates":[152.96,-27.43]},
	  "properties":{"confidence":30,"latitude":-27.43,"longitude":152.96,"datetime":"2025-03-10T01:05:00Z"}},
	 {"geometry":{"type":"Point","coordinates":[115.86,-31.95]},
	  "properties":{"confidence":95,"hours_since_hotspot":1.0,"latitude":-31.95,"longitude":115.86,
	   "datetime":"2025-03-10T01:05:00Z"}},
	 {"geometry":{"type":"Point","coordinates":[152.97,-27.44]},
	  "properties":{"confidence":70,"hours_since_hotspot":20.0,"latitude":-27.44,"longitude":152.97,
	   "datetime":"2025-03-09T06:00:00Z"}}
	]}`
	events := parseDEAHotspots([]byte(body), bbBrisbane, 50, 72)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (low confidence and out-of-box dropped)", len(events))
	}

	hot := events[0]
	if hot.Title != "Satellite Fire Hotspot — Vegetation fire (QLD)" {
		t.Fatalf("title = %q", hot.Title)
	}
	if hot.Severity != model.CAPSevSevere || hot.Urgency != model.CAPUrgImmediate || hot.Certainty != model.CAPCerObserved {
		t.Fatalf("fresh high-confidence tier = %s/%s/%s", hot.Severity, hot.Urgency, hot.Certainty)
	}
	if !strings.Contains(hot.Description, "Detected by NOAA 20/VIIRS") ||
		!strings.Contains(hot.Description, "Temp: 367K") ||
		!strings.Contains(hot.Description, "Power: 54.3MW") {
		t.Fatalf("description = %q", hot.Description)
	}
	if hot.Region != "qld" {
		t.Fatalf("region = %q", hot.Region)
	}

	warm := events[1]
	if warm.Severity != model.CAPSevModerate || warm.Urgency != model.CAPUrgExpected || warm.Certainty != model.CAPCerLikely {
		t.Fatalf("day-old tier = %s/%s/%s", warm.Severity, warm.Urgency, warm.Certainty)
	}
}
