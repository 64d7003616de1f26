package overlays

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/model"
)

var capSeverityRank = map[model.CAPSeverity]int{
	model.CAPSevExtreme:  4,
	model.CAPSevSevere:   3,
	model.CAPSevModerate: 2,
	model.CAPSevMinor:    1,
	model.CAPSevUnknown:  0,
}

// parseNSWRFS normalizes the NSW Rural Fire Service major incidents feed.
// Alert levels follow the national fire ladder: Emergency Warning and
// Watch and Act grade severe, Advice grades moderate. Fires are observed
// events, so certainty is always observed.
func parseNSWRFS(data []byte) []model.HazardEvent {
	root := gjson.ParseBytes(data)
	features := root
	if !root.IsArray() {
		features = root.Get("features")
		if !features.IsArray() {
			features = root.Get("incidents")
		}
	}

	var out []model.HazardEvent
	for _, f := range features.Array() {
		props := f.Get("properties")
		if !props.IsObject() {
			props = f
		}

		title := firstString(props, "title", "description")
		if title == "" {
			title = "NSW Fire Incident"
		}
		desc := firstString(props, "description", "alert_level")
		pub := firstString(props, "pubDate", "updated", "guid")

		alertLevel := strings.ToLower(firstString(props, "alert_level", "alertLevel"))
		var sev model.CAPSeverity
		switch {
		case strings.Contains(alertLevel, "emergency"),
			strings.Contains(strings.ToLower(title), "emergency warning"):
			sev = model.CAPSevSevere
		case strings.Contains(alertLevel, "watch") && strings.Contains(alertLevel, "act"):
			sev = model.CAPSevSevere
		case strings.Contains(alertLevel, "advice"):
			sev = model.CAPSevModerate
		default:
			sev = capSeverityFromText(title, desc)
		}
		urg := model.CAPUrgExpected
		if capSeverityRank[sev] >= capSeverityRank[model.CAPSevSevere] {
			urg = model.CAPUrgImmediate
		}

		geom := decodeGeometry(f.Get("geometry"))
		if geom == nil {
			lat := props.Get("latitude")
			if !lat.Exists() {
				lat = props.Get("lat")
			}
			lng := props.Get("longitude")
			if !lng.Exists() {
				lng = props.Get("lng")
			}
			if !lng.Exists() {
				lng = props.Get("lon")
			}
			if lat.Exists() && lng.Exists() {
				geom = pointGeom(lng.Float(), lat.Float())
			}
		}
		bb := bboxOf(geom)

		issued := parseWhen(pub)
		out = append(out, model.HazardEvent{
			ID:                stableID("nsw_rfs", truncate(title, 160), pub, bboxKeyPart(bb)),
			Source:            "nsw_rfs",
			Kind:              model.HazardBushfire,
			Severity:          sev,
			Urgency:           urg,
			Certainty:         model.CAPCerObserved,
			EffectivePriority: effectivePriority(sev, urg, model.CAPCerObserved),
			Title:             title,
			Description:       desc,
			URL:               firstString(props, "link", "url"),
			IssuedAt:          issued,
			StartAt:           issued,
			Geometry:          geom,
			BBox:              bb,
			Region:            "nsw",
			Raw:               rawMap(props),
		})
	}
	return out
}
