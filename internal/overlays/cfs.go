package overlays

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/model"
)

var cfsMessageLink = regexp.MustCompile(`href=['"]([^'"]+\.html)['"]`)

// parseSACFS normalizes the SA Country Fire Service incident feed.
// Response level drives priority: level 3+ incidents are treated as
// emergencies, level 2 as serious, anything still "going" as active,
// and the rest as wound down.
func parseSACFS(data []byte) []model.HazardEvent {
	root := gjson.ParseBytes(data)
	incidents := root
	if !root.IsArray() {
		for _, k := range []string{"incidents", "results", "features"} {
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

		incType := firstString(inc, "Type", "type")
		status := firstString(inc, "Status", "status")
		location := firstString(inc, "Location_name", "location_name", "Location2")

		var title string
		switch {
		case incType != "" && location != "":
			title = incType + " — " + location
		case location != "":
			title = location
		case incType != "":
			title = "SA CFS: " + incType
		default:
			title = "SA CFS Incident"
		}

		var descParts []string
		if status != "" {
			descParts = append(descParts, "Status: "+status)
		}
		if fbd := firstString(inc, "FBD", "fbd"); fbd != "" {
			descParts = append(descParts, "District: "+fbd)
		}
		if r := inc.Get("Resources").Int(); r > 0 {
			descParts = append(descParts, "Resources: "+strconv.FormatInt(r, 10))
		}
		if a := inc.Get("Aircraft").Int(); a > 0 {
			descParts = append(descParts, "Aircraft: "+strconv.FormatInt(a, 10))
		}
		desc := strings.Join(descParts, ". ")

		kind := hazardKindFromText(strings.ToLower(incType), "")
		lowType := strings.ToLower(incType)
		if strings.Contains(lowType, "vehicle accident") ||
			strings.Contains(lowType, "assist agency") ||
			strings.Contains(lowType, "rescue") {
			kind = model.HazardGeneric
		}

		level := inc.Get("Level").Int()
		lowStatus := strings.ToLower(status)
		var (
			sev model.CAPSeverity
			urg model.CAPUrgency
		)
		switch {
		case level >= 3 || strings.Contains(lowStatus, "emergency"):
			sev, urg = model.CAPSevExtreme, model.CAPUrgImmediate
		case level == 2:
			sev, urg = model.CAPSevSevere, model.CAPUrgExpected
		case strings.Contains(lowStatus, "going"):
			sev, urg = model.CAPSevModerate, model.CAPUrgExpected
		default:
			sev, urg = model.CAPSevMinor, model.CAPUrgPast
		}

		// "Location": "-34.9285,138.6007"
		geom := decodeGeometry(inc.Get("geometry"))
		if geom == nil {
			if ll := strings.SplitN(firstString(inc, "Location", "location"), ",", 2); len(ll) == 2 {
				lat, errLat := strconv.ParseFloat(strings.TrimSpace(ll[0]), 64)
				lng, errLng := strconv.ParseFloat(strings.TrimSpace(ll[1]), 64)
				if errLat == nil && errLng == nil {
					geom = pointGeom(lng, lat)
				}
			}
		}
		bb := bboxOf(geom)

		issued := parseWhen(joinNonEmpty(" ",
			firstString(inc, "Date", "date"), firstString(inc, "Time", "time")))

		var url string
		if m := cfsMessageLink.FindStringSubmatch(inc.Get("Message_link").String()); len(m) == 2 {
			url = m[1]
		}

		idPart := firstString(inc, "IncidentNo", "incidentNo", "incident_no")
		if idPart == "" {
			idPart = truncate(title, 160)
		}

		out = append(out, model.HazardEvent{
			ID:                stableID("sa_cfs", idPart),
			Source:            "sa_cfs",
			Kind:              kind,
			Severity:          sev,
			Urgency:           urg,
			Certainty:         model.CAPCerObserved,
			EffectivePriority: effectivePriority(sev, urg, model.CAPCerObserved),
			Title:             title,
			Description:       desc,
			URL:               url,
			IssuedAt:          issued,
			StartAt:           issued,
			Geometry:          geom,
			BBox:              bb,
			Region:            "sa",
			Raw:               rawMap(inc),
		})
	}
	return out
}
