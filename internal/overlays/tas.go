package overlays

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/geojson"
	"github.com/roamtrip/roampack/internal/model"
)

// parseTASAlerts normalizes the Tasmanian common alerting layer, an
// ArcGIS query response with epoch-millisecond timestamps and either
// point or ring geometries.
func parseTASAlerts(data []byte) []model.HazardEvent {
	features := gjson.GetBytes(data, "features")
	if !features.IsArray() {
		return nil
	}

	var out []model.HazardEvent
	for _, f := range features.Array() {
		attrs := f.Get("attributes")
		if !attrs.IsObject() {
			continue
		}

		expires := parseWhenOrEpoch(attrs.Get("EXPIRES_DATE"))
		if expired(expires) {
			continue
		}

		alertType := firstString(attrs, "ALERT_TYPE", "alert_type")
		summary := firstString(attrs, "ALERT_SUMMARY", "alert_summary")
		area := firstString(attrs, "AREA_DESCRIPTION", "area_description")

		var title string
		switch {
		case alertType != "" && area != "":
			title = alertType + " — " + area
		case alertType != "":
			title = alertType
		case summary != "":
			title = summary
		default:
			title = "TAS Emergency Alert"
		}

		var descParts []string
		if summary != "" && summary != title {
			descParts = append(descParts, summary)
		}
		if instr := firstString(attrs, "ALERT_INSTRUCTIONS", "alert_instructions"); instr != "" {
			descParts = append(descParts, instr)
		}
		if full := truncate(firstString(attrs, "FULL_DESCRIPTION", "full_description"), 500); full != "" && full != summary {
			descParts = append(descParts, full)
		}
		if sender := firstString(attrs, "SENDER_NAME", "sender_name"); sender != "" {
			descParts = append(descParts, "Source: "+sender)
		}
		desc := strings.Join(descParts, ". ")

		kind := hazardKindFromText(strings.ToLower(joinNonEmpty(" ",
			firstString(attrs, "EVENT", "event"), alertType)), "")

		lowType := strings.ToLower(alertType)
		var (
			sev model.CAPSeverity
			urg model.CAPUrgency
		)
		switch {
		case strings.Contains(lowType, "emergency warning"):
			sev, urg = model.CAPSevExtreme, model.CAPUrgImmediate
		case strings.Contains(lowType, "watch and act"):
			sev, urg = model.CAPSevSevere, model.CAPUrgImmediate
		case strings.Contains(lowType, "warning") && !strings.Contains(lowType, "advice"):
			sev, urg = model.CAPSevSevere, model.CAPUrgExpected
		case strings.Contains(lowType, "advice") || strings.Contains(lowType, "alert"):
			sev, urg = model.CAPSevModerate, model.CAPUrgExpected
		case strings.Contains(lowType, "smoke"):
			sev, urg = model.CAPSevMinor, model.CAPUrgExpected
		default:
			sev = capSeverityFromText(title, desc)
			if sev == model.CAPSevUnknown {
				sev = model.CAPSevModerate
			}
			urg = model.CAPUrgExpected
		}
		cer := model.CAPCerLikely
		if urg == model.CAPUrgImmediate {
			cer = model.CAPCerObserved
		}

		geom := tasGeometry(f.Get("geometry"))
		bb := bboxOf(geom)

		effectiveRaw := attrs.Get("EFFECTIVE_FROM_DATE")
		effective := parseWhenOrEpoch(effectiveRaw)

		objectID := firstString(attrs, "OBJECTID", "FID", "objectid")
		if objectID == "" {
			objectID = attrs.Get("OBJECTID").Raw
		}

		out = append(out, model.HazardEvent{
			ID:                stableID("tas_thelist", objectID, truncate(alertType, 80), truncate(effectiveRaw.String(), 40)),
			Source:            "tas_thelist",
			Kind:              kind,
			Severity:          sev,
			Urgency:           urg,
			Certainty:         cer,
			EffectivePriority: effectivePriority(sev, urg, cer),
			Title:             title,
			Description:       desc,
			URL:               firstString(attrs, "TASALERT_LINK", "tasalert_link"),
			IssuedAt:          effective,
			StartAt:           effective,
			EndAt:             expires,
			Geometry:          geom,
			BBox:              bb,
			Region:            "tas",
			Raw:               rawMap(attrs),
		})
	}
	return out
}

// tasGeometry converts ArcGIS geometry to GeoJSON. Rings stay inside a
// single Polygon, matching how the layer publishes holes.
func tasGeometry(g gjson.Result) *geojson.Geometry {
	if !g.IsObject() {
		return nil
	}
	if x, y := g.Get("x"), g.Get("y"); x.Exists() && y.Exists() {
		return pointGeom(x.Float(), y.Float())
	}
	rings := g.Get("rings")
	if !rings.IsArray() {
		return nil
	}
	var coords [][][]float64
	for _, ring := range rings.Array() {
		var r [][]float64
		for _, pt := range ring.Array() {
			pts := pt.Array()
			if len(pts) < 2 {
				continue
			}
			r = append(r, []float64{pts[0].Float(), pts[1].Float()})
		}
		if len(r) >= 3 {
			coords = append(coords, r)
		}
	}
	if len(coords) == 0 {
		return nil
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil
	}
	return &geojson.Geometry{Type: "Polygon", Coordinates: raw}
}
