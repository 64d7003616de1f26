package overlays

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/geojson"
	"github.com/roamtrip/roampack/internal/model"
)

// NT Road Report vocabulary. restrictionType describes the road impact
// and wins over obstructionType, which names the cause.
var (
	ntRestrictionTypes = map[string]struct {
		typ model.TrafficType
		sev model.Severity
	}{
		"road closed": {model.TrafficClosure, model.SeverityMajor},
		"impassable":  {model.TrafficClosure, model.SeverityMajor},
		"with caution": {model.TrafficHazard, model.SeverityModerate},
		"weight and or vehicle type restriction": {model.TrafficHazard, model.SeverityInfo},
	}
	ntObstructionTypes = map[string]struct {
		typ model.TrafficType
		sev model.Severity
	}{
		"flooding":                    {model.TrafficFlooding, model.SeverityMajor},
		"water over road":             {model.TrafficFlooding, model.SeverityMajor},
		"wandering stock":             {model.TrafficHazard, model.SeverityModerate},
		"changing surface conditions": {model.TrafficHazard, model.SeverityInfo},
		"maximum gvm 4.5 tonne":       {model.TrafficHazard, model.SeverityInfo},
	}
)

// pollNT reads the NT Road Report obstruction list. This doubles as the
// outback road-conditions overlay: Tanami Road, Plenty Highway and the
// Stuart Highway all report through it.
func (t *Traffic) pollNT(ctx context.Context) sourceResult {
	body, err := fetchBody(ctx, t.http, t.feeds.NTTrafficURL, nil, "nt_traffic")
	if err != nil {
		observability.IncOverlaySourceFailure("nt_traffic")
		return sourceResult{warnings: []string{fmt.Sprintf("traffic:nt failed: %v", err)}}
	}

	// The API returns a bare array; tolerate wrapped variants.
	root := gjson.ParseBytes(body)
	items := root
	if !root.IsArray() {
		for _, k := range []string{"obstructions", "items", "results"} {
			if arr := root.Get(k); arr.IsArray() {
				items = arr
				break
			}
		}
	}

	var events []model.TrafficEvent
	for _, item := range items.Array() {
		if ev, ok := ntObstructionToEvent(item); ok {
			events = append(events, ev)
		}
	}
	return sourceResult{events: events}
}

func ntObstructionToEvent(item gjson.Result) (model.TrafficEvent, bool) {
	endAt := parseWhenOrEpoch(item.Get("dateTo"))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	roadName := firstString(item, "roadName")
	obstruction := firstString(item, "obstructionType")
	restriction := firstString(item, "restrictionType")
	comment := firstString(item, "comment")
	locationComment := firstString(item, "locationComment")

	impact := restriction
	if impact == "" {
		impact = obstruction
	}
	headline := joinNonEmpty(" — ", impact, roadName)
	if headline == "" {
		headline = "NT road obstruction"
	}

	descObstruction := obstruction
	if descObstruction == restriction {
		descObstruction = ""
	}
	desc := joinNonEmpty(". ", descObstruction, locationComment, comment)

	var (
		typ model.TrafficType
		sev model.Severity
	)
	if c, ok := ntRestrictionTypes[strings.ToLower(restriction)]; ok {
		typ, sev = c.typ, c.sev
	} else if c, ok := ntObstructionTypes[strings.ToLower(obstruction)]; ok {
		typ, sev = c.typ, c.sev
	} else {
		typ, sev = classifyTraffic(headline, desc, impact)
	}

	geom := ntSegmentGeom(item)
	startAt := parseWhenOrEpoch(item.Get("dateFrom"))

	return model.TrafficEvent{
		ID: stableID("nt_roadreport", truncate(roadName, 80), truncate(obstruction, 40),
			truncate(restriction, 40), truncate(locationComment, 80)),
		Source:      "nt_roadreport",
		Feed:        "obstructions",
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: desc,
		URL:         "https://roadreport.nt.gov.au/",
		IssuedAt:    firstWhen(parseWhenOrEpoch(item.Get("dateActive")), startAt),
		StartAt:     startAt,
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bboxOf(geom),
		Region:      "nt",
		Raw:         rawMap(item),
	}, true
}

// ntSegmentGeom builds a LineString from startPoint to endPoint, or a
// Point when only one end (or both coincide) is reported.
func ntSegmentGeom(item gjson.Result) *geojson.Geometry {
	var coords [][2]float64
	for _, k := range []string{"startPoint", "endPoint"} {
		pt := item.Get(k)
		lat, lng := pt.Get("latitude"), pt.Get("longitude")
		if lat.Exists() && lng.Exists() {
			coords = append(coords, [2]float64{lng.Float(), lat.Float()})
		}
	}
	switch {
	case len(coords) == 2 && coords[0] != coords[1]:
		return lineGeom(coords)
	case len(coords) >= 1:
		return pointGeom(coords[0][0], coords[0][1])
	}
	return nil
}
