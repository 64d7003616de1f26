package overlays

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/model"
)

// TfNSW Live Traffic publishes one hazards FeatureCollection per type.
var nswFeedTypes = []string{"incidents", "fires", "floods", "alpine", "roadworks", "majorevent", "planned"}

// nswSources expands NSW into one concurrent source per feed type. Without
// an API key the state is a single source that only emits the skip warning.
func (t *Traffic) nswSources() []trafficSource {
	if !t.feeds.NSWTrafficEnabled {
		return nil
	}
	key := strings.TrimSpace(t.feeds.NSWTrafficAPIKey)
	if key == "" {
		return []trafficSource{{
			name: "nsw",
			run: func(context.Context) sourceResult {
				return sourceResult{warnings: []string{"traffic:nsw skipped — no API key (set NSW_TRAFFIC_API_KEY)"}}
			},
		}}
	}
	base := strings.TrimRight(t.feeds.NSWTrafficBase, "/")
	out := make([]trafficSource, 0, len(nswFeedTypes))
	for _, feed := range nswFeedTypes {
		feed := feed
		out = append(out, trafficSource{
			name: "nsw:" + feed,
			run: func(ctx context.Context) sourceResult {
				return t.pollNSWFeed(ctx, base+"/"+feed, feed, key)
			},
		})
	}
	return out
}

func (t *Traffic) pollNSWFeed(ctx context.Context, url, feed, key string) sourceResult {
	header := http.Header{}
	header.Set("Authorization", "apikey "+key)
	header.Set("Accept", "application/json")

	body, err := fetchBody(ctx, t.http, url, header, "nsw_traffic")
	if err != nil {
		observability.IncOverlaySourceFailure("nsw_traffic")
		return sourceResult{warnings: []string{fmt.Sprintf("traffic:nsw:%s failed: %v", feed, err)}}
	}

	var events []model.TrafficEvent
	for _, f := range gjson.GetBytes(body, "features").Array() {
		if ev, ok := nswFeatureToEvent(f, feed); ok {
			events = append(events, ev)
		}
	}
	return sourceResult{events: events}
}

func nswFeatureToEvent(f gjson.Result, feed string) (model.TrafficEvent, bool) {
	props := f.Get("properties")
	if props.Get("isEnded").Bool() {
		return model.TrafficEvent{}, false
	}

	endAt := parseWhenOrEpoch(props.Get("end"))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	headline := firstString(props, "headline", "displayName")
	if headline == "" {
		headline = "NSW " + feed
	}
	desc := firstString(props, "otherAdvice", "advisoryMessage")

	mainCat := firstString(props, "mainCategory")
	if mainCat == "" {
		mainCat = feed
	}
	typ, sev := classifyTraffic(headline, desc, mainCat)
	if props.Get("isMajor").Bool() {
		sev = model.SeverityMajor
	}
	// Feed-type overrides keep fires and floods honest regardless of how
	// the category text classifies.
	switch feed {
	case "fires":
		typ, sev = model.TrafficHazard, model.SeverityMajor
	case "floods":
		typ, sev = model.TrafficFlooding, model.SeverityMajor
	}

	geom := decodeGeometry(f.Get("geometry"))
	bb := bboxOf(geom)

	var id string
	if sid := firstString(f, "id", "properties.id"); sid != "" {
		id = stableID("nsw_traffic", feed, sid)
	} else {
		id = stableID("nsw_traffic", feed, truncate(headline, 160), bboxKeyPart(bb))
	}

	return model.TrafficEvent{
		ID:          id,
		Source:      "nsw_traffic",
		Feed:        feed,
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: desc,
		URL:         firstString(props, "webLinkUrl"),
		IssuedAt:    firstWhen(parseWhenOrEpoch(props.Get("lastUpdated")), parseWhenOrEpoch(props.Get("created"))),
		StartAt:     firstWhen(parseWhenOrEpoch(props.Get("start")), parseWhenOrEpoch(props.Get("created"))),
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bb,
		Region:      "nsw",
		Raw:         rawMap(props),
	}, true
}
