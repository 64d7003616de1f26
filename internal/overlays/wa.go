package overlays

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

// Main Roads WA ArcGIS vocabulary. ClosureTyp describes the road impact,
// IncidentType the cause; the cause is the better classifier when both
// are present.
var (
	waClosureTypes = map[string]struct {
		typ model.TrafficType
		sev model.Severity
	}{
		"full closure":      {model.TrafficClosure, model.SeverityMajor},
		"partial closure":   {model.TrafficClosure, model.SeverityModerate},
		"lane closure":      {model.TrafficClosure, model.SeverityModerate},
		"road closed":       {model.TrafficClosure, model.SeverityMajor},
		"detour":            {model.TrafficClosure, model.SeverityModerate},
		"temporary closure": {model.TrafficClosure, model.SeverityModerate},
	}
	waIncidentTypes = map[string]struct {
		typ model.TrafficType
		sev model.Severity
	}{
		"break down/tow away":        {model.TrafficCrash, model.SeverityMinor},
		"bushfire":                   {model.TrafficHazard, model.SeverityMajor},
		"debris/trees/lost loads":    {model.TrafficHazard, model.SeverityModerate},
		"detour":                     {model.TrafficClosure, model.SeverityModerate},
		"flooding":                   {model.TrafficFlooding, model.SeverityMajor},
		"pothole/road surface damage": {model.TrafficHazard, model.SeverityMinor},
		"special event":              {model.TrafficHazard, model.SeverityInfo},
	}
)

// pollWA reads the Main Roads WA incidents feed (ArcGIS, CC-BY 4.0).
func (t *Traffic) pollWA(ctx context.Context) sourceResult {
	body, err := fetchBody(ctx, t.http, t.feeds.WATrafficURL, nil, "wa_traffic")
	if err != nil {
		observability.IncOverlaySourceFailure("wa_traffic")
		return sourceResult{warnings: []string{fmt.Sprintf("traffic:wa failed: %v", err)}}
	}

	var events []model.TrafficEvent
	for _, f := range gjson.GetBytes(body, "features").Array() {
		if ev, ok := waFeatureToEvent(f); ok {
			events = append(events, ev)
		}
	}
	return sourceResult{events: events}
}

func waFeatureToEvent(f gjson.Result) (model.TrafficEvent, bool) {
	props := f.Get("properties")

	startAt := firstWhen(parseWhenOrEpoch(props.Get("ClosureStartDate")), parseWhenOrEpoch(props.Get("StartDate")))
	endAt := firstWhen(parseWhenOrEpoch(props.Get("ClosureEndDate")), parseWhenOrEpoch(props.Get("EndDate")))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	closureType := firstString(props, "ClosureTyp", "ClosureType")
	incidentType := firstString(props, "IncidentType")
	roadName := firstString(props, "RoadName", "Road")
	suburb := firstString(props, "Suburb", "Location")
	comments := firstString(props, "Comments", "Description")

	cause := incidentType
	if cause == "" {
		cause = closureType
	}
	headline := joinNonEmpty(" — ", cause, roadName, suburb)
	if headline == "" {
		headline = "WA road incident"
	}

	var (
		typ model.TrafficType
		sev model.Severity
	)
	if c, ok := waIncidentTypes[strings.ToLower(incidentType)]; ok {
		typ, sev = c.typ, c.sev
	} else if c, ok := waClosureTypes[strings.ToLower(closureType)]; ok {
		typ, sev = c.typ, c.sev
	} else {
		typ, sev = classifyTraffic(headline, comments, cause)
	}

	geom := decodeGeometry(f.Get("geometry"))
	bb := bboxOf(geom)

	var id string
	if oid := firstString(props, "OBJECTID", "ObjectId", "FID"); oid != "" {
		id = stableID("wa_traffic", oid)
	} else {
		id = stableID("wa_traffic", truncate(headline, 160), bboxKeyPart(bb))
	}

	return model.TrafficEvent{
		ID:          id,
		Source:      "wa_mainroads",
		Feed:        "arcgis_incidents",
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: comments,
		IssuedAt:    startAt,
		StartAt:     startAt,
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bb,
		Region:      "wa",
		Raw:         rawMap(props),
	}, true
}
