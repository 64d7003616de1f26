package overlays

import (
	"math"
	"strings"

	"github.com/roamtrip/roampack/internal/model"
)

type trafficClass struct {
	key string
	typ model.TrafficType
	sev model.Severity
}

// structuredTypes maps the feeds' own type fields to (type, severity).
// Ordered so the partial-match fallback is deterministic.
var structuredTypes = []trafficClass{
	// QLD Traffic v2 event types
	{"road closure", model.TrafficClosure, model.SeverityMajor},
	{"road closed", model.TrafficClosure, model.SeverityMajor},
	{"closure", model.TrafficClosure, model.SeverityMajor},
	{"roadworks", model.TrafficRoadworks, model.SeverityModerate},
	{"roadwork", model.TrafficRoadworks, model.SeverityModerate},
	{"road work", model.TrafficRoadworks, model.SeverityModerate},
	{"flooding", model.TrafficFlooding, model.SeverityMajor},
	{"flood", model.TrafficFlooding, model.SeverityMajor},
	{"congestion", model.TrafficCongestion, model.SeverityMinor},
	{"crash", model.TrafficCrash, model.SeverityModerate},
	{"incident", model.TrafficCrash, model.SeverityModerate},
	{"collision", model.TrafficCrash, model.SeverityModerate},
	{"breakdown", model.TrafficCrash, model.SeverityMinor},
	{"hazard", model.TrafficHazard, model.SeverityInfo},
	{"special event", model.TrafficHazard, model.SeverityInfo},
	// NSW Live Traffic mainCategory values
	{"alpine conditions", model.TrafficHazard, model.SeverityInfo},
	{"fire", model.TrafficHazard, model.SeverityMajor},
	{"major event", model.TrafficHazard, model.SeverityModerate},
	// VIC Data Exchange event types
	{"road closure - emergency", model.TrafficClosure, model.SeverityMajor},
	{"road closure - planned", model.TrafficClosure, model.SeverityModerate},
	{"unplanned", model.TrafficCrash, model.SeverityModerate},
	{"planned", model.TrafficRoadworks, model.SeverityMinor},
	// WA Main Roads ArcGIS IncidentType values
	{"bushfire", model.TrafficHazard, model.SeverityMajor},
	{"debris/trees/lost loads", model.TrafficHazard, model.SeverityModerate},
	{"detour", model.TrafficClosure, model.SeverityModerate},
	{"pothole/road surface damage", model.TrafficHazard, model.SeverityMinor},
	{"break down/tow away", model.TrafficCrash, model.SeverityMinor},
	// NT Road Report obstructionType values
	{"water over road", model.TrafficFlooding, model.SeverityMajor},
	{"wandering stock", model.TrafficHazard, model.SeverityModerate},
	{"changing surface conditions", model.TrafficHazard, model.SeverityInfo},
	{"maximum gvm 4.5 tonne", model.TrafficHazard, model.SeverityInfo},
}

type textClass struct {
	keywords []string
	typ      model.TrafficType
	sev      model.Severity
}

// textPatterns classify by Australian road-report phrasing when no
// structured type is available. First match wins.
var textPatterns = []textClass{
	{[]string{"road closed", "closure", "closed", "shut", "impassable", "blocked",
		"no access", "cut off", "road closure"}, model.TrafficClosure, model.SeverityMajor},
	{[]string{"flood", "flooding", "floodwater", "inundated", "water over road",
		"water across", "submerged"}, model.TrafficFlooding, model.SeverityMajor},
	{[]string{"roadworks", "works", "road work", "maintenance", "resurfacing",
		"line marking", "bridge work", "construction zone"}, model.TrafficRoadworks, model.SeverityModerate},
	{[]string{"congestion", "heavy traffic", "delays", "slow traffic",
		"queuing traffic"}, model.TrafficCongestion, model.SeverityMinor},
	{[]string{"crash", "incident", "collision", "accident", "rollover", "jackknife",
		"truck rollover", "vehicle fire", "multi-vehicle"}, model.TrafficCrash, model.SeverityModerate},
	{[]string{"bushfire", "grass fire", "fire", "smoke"}, model.TrafficHazard, model.SeverityMajor},
}

// classifyTraffic maps an event to (type, severity): the structured type
// field first (exact, then substring either way), then keyword matching
// over headline and description.
func classifyTraffic(headline, desc, structured string) (model.TrafficType, model.Severity) {
	if s := strings.ToLower(strings.TrimSpace(structured)); s != "" {
		for _, c := range structuredTypes {
			if c.key == s {
				return c.typ, c.sev
			}
		}
		for _, c := range structuredTypes {
			if strings.Contains(s, c.key) || strings.Contains(c.key, s) {
				return c.typ, c.sev
			}
		}
	}
	hay := strings.ToLower(headline + " " + desc)
	for _, p := range textPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(hay, kw) {
				return p.typ, p.sev
			}
		}
	}
	return model.TrafficHazard, model.SeverityInfo
}

// hazardKindFromText buckets a warning by its wording; the structured
// event name wins over the title when the feed provides one.
func hazardKindFromText(title, event string) model.HazardKind {
	t := strings.ToLower(event)
	if t == "" {
		t = strings.ToLower(title)
	}
	switch {
	case strings.Contains(t, "flood"):
		return model.HazardFlood
	case strings.Contains(t, "cyclone"), strings.Contains(t, "tropical"):
		return model.HazardCyclone
	case strings.Contains(t, "storm"), strings.Contains(t, "thunder"):
		return model.HazardStorm
	case strings.Contains(t, "fire"):
		return model.HazardBushfire
	case strings.Contains(t, "wind"), strings.Contains(t, "gale"):
		return model.HazardStorm
	case strings.Contains(t, "heat"):
		return model.HazardHeatwave
	case strings.Contains(t, "earthquake"):
		return model.HazardEarthquake
	case strings.Contains(t, "tsunami"):
		return model.HazardTsunami
	}
	return model.HazardWeather
}

// capSeverityFromText grades feeds that speak in Australian warning
// levels rather than CAP terms.
func capSeverityFromText(title, desc string) model.CAPSeverity {
	hay := strings.ToLower(title + " " + desc)
	switch {
	case strings.Contains(hay, "emergency warning"), strings.Contains(hay, "evacuate"),
		strings.Contains(hay, "dangerous"), strings.Contains(hay, "life threatening"):
		return model.CAPSevExtreme
	case strings.Contains(hay, "warning"), strings.Contains(hay, "severe"):
		return model.CAPSevSevere
	case strings.Contains(hay, "watch"), strings.Contains(hay, "advice"),
		strings.Contains(hay, "minor"):
		return model.CAPSevModerate
	}
	return model.CAPSevUnknown
}

func normalizeCAPSeverity(v string) model.CAPSeverity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "extreme":
		return model.CAPSevExtreme
	case "severe":
		return model.CAPSevSevere
	case "moderate":
		return model.CAPSevModerate
	case "minor":
		return model.CAPSevMinor
	}
	return model.CAPSevUnknown
}

func normalizeCAPUrgency(v string) model.CAPUrgency {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "immediate":
		return model.CAPUrgImmediate
	case "expected":
		return model.CAPUrgExpected
	case "future":
		return model.CAPUrgFuture
	case "past":
		return model.CAPUrgPast
	}
	return model.CAPUrgUnknown
}

func normalizeCAPCertainty(v string) model.CAPCertainty {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "observed":
		return model.CAPCerObserved
	case "likely":
		return model.CAPCerLikely
	case "possible":
		return model.CAPCerPossible
	case "unlikely":
		return model.CAPCerUnlikely
	}
	return model.CAPCerUnknown
}

var (
	capSeverityScores = map[model.CAPSeverity]float64{
		model.CAPSevExtreme:  1.0,
		model.CAPSevSevere:   0.8,
		model.CAPSevModerate: 0.5,
		model.CAPSevMinor:    0.25,
		model.CAPSevUnknown:  0.3,
	}
	capUrgencyScores = map[model.CAPUrgency]float64{
		model.CAPUrgImmediate: 1.0,
		model.CAPUrgExpected:  0.75,
		model.CAPUrgFuture:    0.4,
		model.CAPUrgPast:      0.1,
		model.CAPUrgUnknown:   0.3,
	}
	capCertaintyScores = map[model.CAPCertainty]float64{
		model.CAPCerObserved: 1.0,
		model.CAPCerLikely:   0.8,
		model.CAPCerPossible: 0.5,
		model.CAPCerUnlikely: 0.2,
		model.CAPCerUnknown:  0.3,
	}
)

// effectivePriority is the composite CAP score in [0,1]: severity 40%,
// urgency 35%, certainty 25%, rounded to 3 decimals. A Severe+Immediate+
// Observed flood outranks a Severe+Future+Possible storm, which is what
// makes ranking workable when a region carries a dozen warnings.
func effectivePriority(sev model.CAPSeverity, urg model.CAPUrgency, cer model.CAPCertainty) float64 {
	s, ok := capSeverityScores[sev]
	if !ok {
		s = 0.3
	}
	u, ok := capUrgencyScores[urg]
	if !ok {
		u = 0.3
	}
	c, ok := capCertaintyScores[cer]
	if !ok {
		c = 0.3
	}
	return math.Round((s*0.40+u*0.35+c*0.25)*1000) / 1000
}
