package overlays

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

// pollSA reads the Traffic SA GeoJSON feed. The public endpoint has been
// flaky for a while, which is why SA ships disabled by default; the parser
// stays so flipping SA_TRAFFIC_ENABLED is all a replacement feed needs.
func (t *Traffic) pollSA(ctx context.Context) sourceResult {
	body, err := fetchBody(ctx, t.http, t.feeds.SATrafficURL, nil, "sa_traffic")
	if err != nil {
		observability.IncOverlaySourceFailure("sa_traffic")
		return sourceResult{warnings: []string{fmt.Sprintf("traffic:sa failed: %v", err)}}
	}

	var events []model.TrafficEvent
	for _, f := range gjson.GetBytes(body, "features").Array() {
		if ev, ok := saFeatureToEvent(f); ok {
			events = append(events, ev)
		}
	}
	return sourceResult{events: events}
}

func saFeatureToEvent(f gjson.Result) (model.TrafficEvent, bool) {
	props := f.Get("properties")

	endAt := parseWhen(firstString(props, "end", "end_date", "expires"))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	headline := firstString(props, "headline", "title", "description")
	if headline == "" {
		headline = "SA traffic event"
	}
	desc := firstString(props, "description", "advice")
	typ, sev := classifyTraffic(headline, desc, firstString(props, "event_type", "type"))

	geom := decodeGeometry(f.Get("geometry"))
	bb := bboxOf(geom)

	var id string
	if sid := firstString(f, "id", "properties.id"); sid != "" {
		id = stableID("sa_traffic", sid)
	} else {
		id = stableID("sa_traffic", truncate(headline, 160), bboxKeyPart(bb))
	}

	return model.TrafficEvent{
		ID:          id,
		Source:      "sa_traffic",
		Feed:        "events",
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: desc,
		URL:         firstString(props, "url", "link"),
		IssuedAt:    parseWhen(firstString(props, "last_updated", "updated")),
		StartAt:     parseWhen(firstString(props, "start", "start_date")),
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bb,
		Region:      "sa",
		Raw:         rawMap(props),
	}, true
}
