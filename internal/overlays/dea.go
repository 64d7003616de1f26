package overlays

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/model"
)

// parseDEAHotspots normalizes Digital Earth Australia satellite fire
// detections. Hotspots below minConf confidence or older than maxHours
// are dropped, as are detections outside the query box; the national
// layer is far too dense to admit wholesale.
func parseDEAHotspots(data []byte, query model.BBox, minConf int64, maxHours float64) []model.HazardEvent {
	features := gjson.GetBytes(data, "features")
	if !features.IsArray() {
		return nil
	}

	var out []model.HazardEvent
	for _, f := range features.Array() {
		props := f.Get("properties")
		if !props.IsObject() {
			continue
		}

		conf := props.Get("confidence").Int()
		if conf < minConf {
			continue
		}
		hours := 999.0
		if h := props.Get("hours_since_hotspot"); h.Exists() {
			hours = h.Float()
		}
		if hours > maxHours {
			continue
		}

		geom := decodeGeometry(f.Get("geometry"))
		lat, lng := props.Get("latitude").Float(), props.Get("longitude").Float()
		if geom == nil {
			if lat == 0 && lng == 0 {
				continue
			}
			geom = pointGeom(lng, lat)
		} else if lat == 0 && lng == 0 {
			if glng, glat, ok := geom.PointCoords(); ok {
				lng, lat = glng, glat
			}
		}
		if !query.Contains(lat, lng) {
			continue
		}

		state := firstString(props, "australian_state", "state")
		title := "Satellite Fire Hotspot"
		if cat := firstString(props, "fire_category_name"); cat != "" {
			title += " — " + cat
		}
		if state != "" {
			title += " (" + state + ")"
		}

		satellite := firstString(props, "satellite")
		var descParts []string
		if satellite != "" {
			detected := "Detected by " + satellite
			if sensor := firstString(props, "sensor"); sensor != "" {
				detected += "/" + sensor
			}
			descParts = append(descParts, detected)
		}
		if temp := props.Get("temp_kelvin"); temp.Exists() && temp.Float() > 0 {
			descParts = append(descParts, fmt.Sprintf("Temp: %dK", int(temp.Float())))
		}
		if power := props.Get("power"); power.Exists() && power.Float() > 0 {
			descParts = append(descParts, fmt.Sprintf("Power: %.1fMW", power.Float()))
		}
		descParts = append(descParts, fmt.Sprintf("Confidence: %d%%", conf))
		if hours < 999 {
			descParts = append(descParts, fmt.Sprintf("%.0fh ago", hours))
		}

		var (
			sev model.CAPSeverity
			urg model.CAPUrgency
			cer model.CAPCertainty
		)
		switch {
		case conf >= 80 && hours <= 6:
			sev, urg, cer = model.CAPSevSevere, model.CAPUrgImmediate, model.CAPCerObserved
		case conf >= 60 && hours <= 24:
			sev, urg, cer = model.CAPSevModerate, model.CAPUrgExpected, model.CAPCerLikely
		default:
			sev, urg, cer = model.CAPSevMinor, model.CAPUrgFuture, model.CAPCerPossible
		}

		dt := firstString(props, "datetime", "sensing_time")
		issued := parseWhen(dt)

		out = append(out, model.HazardEvent{
			ID: stableID("dea_hotspot",
				fmt.Sprintf("%.4f", lat), fmt.Sprintf("%.4f", lng),
				truncate(dt, 20), truncate(satellite, 20)),
			Source:            "dea_hotspots",
			Kind:              model.HazardBushfire,
			Severity:          sev,
			Urgency:           urg,
			Certainty:         cer,
			EffectivePriority: effectivePriority(sev, urg, cer),
			Title:             title,
			Description:       strings.Join(descParts, ". "),
			URL:               "https://hotspots.dea.ga.gov.au/",
			IssuedAt:          issued,
			StartAt:           issued,
			Geometry:          geom,
			BBox:              bboxOf(geom),
			Region:            strings.ToLower(state),
			Raw:               rawMap(props),
		})
	}
	return out
}
