package overlays

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/model"
)

// parseVicEmergency normalizes the VicEmergency incident feed: a flat
// array of control-centre records with DD/MM/YYYY timestamps, point
// coordinates, and a status ladder (Emergency Warning > Watch and Act >
// Advice/Going > Under Control).
func parseVicEmergency(data []byte) []model.HazardEvent {
	root := gjson.ParseBytes(data)
	incidents := root
	if !root.IsArray() {
		for _, k := range []string{"results", "incidents", "features"} {
			if arr := root.Get(k); arr.IsArray() {
				incidents = arr
				break
			}
		}
	}

	var out []model.HazardEvent
	for _, inc := range incidents.Array() {
		if !inc.IsObject() {
			continue
		}

		incType := firstString(inc, "incidentType")
		incStatus := firstString(inc, "incidentStatus", "originStatus")
		incLocation := firstString(inc, "incidentLocation")
		incName := firstString(inc, "name")
		incSize := firstString(inc, "incidentSize", "incidentSizeFmt")

		var title string
		switch {
		case incName != "" && incLocation != "":
			title = incName + " — " + incLocation
		case incName != "":
			title = incName
		case incLocation != "" && incType != "":
			title = incType + " — " + incLocation
		case incLocation != "":
			title = incLocation
		case incType != "":
			title = incType
		default:
			title = "VIC Emergency Incident"
		}

		var descParts []string
		if incType != "" {
			descParts = append(descParts, incType)
		}
		if incSize != "" && incSize != "0.00 HA." {
			descParts = append(descParts, "Size: "+incSize)
		}
		if m := firstString(inc, "municipality"); m != "" {
			descParts = append(descParts, "Municipality: "+m)
		}
		if a := firstString(inc, "agency", "territory"); a != "" {
			descParts = append(descParts, "Agency: "+a)
		}
		if rc := inc.Get("resourceCount").Int(); rc > 0 {
			descParts = append(descParts, fmt.Sprintf("Resources: %d", rc))
		}
		desc := strings.Join(descParts, ". ")

		kind := hazardKindFromText(strings.ToLower(joinNonEmpty(" ",
			firstString(inc, "category1"), firstString(inc, "category2"), incType)), "")

		var (
			sev model.CAPSeverity
			urg model.CAPUrgency
		)
		switch strings.ToLower(incStatus) {
		case "emergency warning", "emergency", "watch and act", "watch_and_act":
			sev, urg = model.CAPSevSevere, model.CAPUrgImmediate
		case "advice", "going":
			sev, urg = model.CAPSevModerate, model.CAPUrgExpected
		case "under control", "controlled", "safe", "complete":
			sev, urg = model.CAPSevMinor, model.CAPUrgPast
		default:
			sev = capSeverityFromText(title, desc)
			switch {
			case capSeverityRank[sev] >= capSeverityRank[model.CAPSevSevere]:
				urg = model.CAPUrgImmediate
			case sev == model.CAPSevModerate:
				urg = model.CAPUrgExpected
			default:
				urg = model.CAPUrgPast
			}
		}

		geom := decodeGeometry(inc.Get("geometry"))
		if geom == nil {
			lat, lng := inc.Get("latitude"), inc.Get("longitude")
			if lat.Exists() && lng.Exists() {
				geom = pointGeom(lng.Float(), lat.Float())
			}
		}
		bb := bboxOf(geom)

		// Epoch millis when present, else the DD/MM/YYYY string.
		issued := parseWhenOrEpoch(inc.Get("lastUpdatedDt"))
		issuedRaw := firstString(inc, "lastUpdateDateTime", "lastUpdatedDtStr")
		if issued == nil {
			issued = parseWhen(issuedRaw)
		}
		originRaw := firstString(inc, "originDateTime", "originDateTimeStr")

		idStamp := issuedRaw
		if idStamp == "" {
			idStamp = originRaw
		}

		out = append(out, model.HazardEvent{
			ID:                stableID("vic_emergency", inc.Get("incidentNo").String(), idStamp),
			Source:            "vic_emergency",
			Kind:              kind,
			Severity:          sev,
			Urgency:           urg,
			Certainty:         model.CAPCerObserved,
			EffectivePriority: effectivePriority(sev, urg, model.CAPCerObserved),
			Title:             title,
			Description:       desc,
			IssuedAt:          issued,
			StartAt:           parseWhen(originRaw),
			Geometry:          geom,
			BBox:              bb,
			Region:            "vic",
			Raw:               rawMap(inc),
		})
	}
	return out
}
