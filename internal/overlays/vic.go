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

const vicPageLimit = 200

// pollVIC reads the VicRoads Data Exchange disruptions feed. The API is
// plain JSON (not GeoJSON) behind a KeyID header, paginated with
// page/limit; five pages is a generous ceiling for live disruptions.
func (t *Traffic) pollVIC(ctx context.Context) sourceResult {
	key := strings.TrimSpace(t.feeds.VICTrafficAPIKey)
	if key == "" {
		return sourceResult{warnings: []string{"traffic:vic skipped — no API key (set VIC_TRAFFIC_API_KEY)"}}
	}

	header := http.Header{}
	header.Set("KeyID", key)
	header.Set("Accept", "application/json")

	var events []model.TrafficEvent
	for page := 1; page <= 5; page++ {
		url := withQuery(withQuery(t.feeds.VICTrafficURL, "page", fmt.Sprintf("%d", page)), "limit", fmt.Sprintf("%d", vicPageLimit))
		body, err := fetchBody(ctx, t.http, url, header, "vic_traffic")
		if err != nil {
			observability.IncOverlaySourceFailure("vic_traffic")
			return sourceResult{
				events:   events,
				warnings: []string{fmt.Sprintf("traffic:vic failed: %v", err)},
			}
		}

		batch := vicRecords(body)
		for _, rec := range batch {
			if ev, ok := vicRecordToEvent(rec); ok {
				events = append(events, ev)
			}
		}
		if len(batch) < vicPageLimit {
			break
		}
	}
	return sourceResult{events: events}
}

// vicRecords tolerates the envelope variants the Data Exchange returns: a
// bare array, or one of value/records/features.
func vicRecords(body []byte) []gjson.Result {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array()
	}
	for _, k := range []string{"value", "records", "features"} {
		if arr := root.Get(k); arr.IsArray() {
			return arr.Array()
		}
	}
	return nil
}

func vicRecordToEvent(rec gjson.Result) (model.TrafficEvent, bool) {
	startAt := parseWhenOrEpoch(rec.Get("start_date"))
	if startAt == nil {
		startAt = parseWhenOrEpoch(rec.Get("created_date"))
	}
	endAt := firstWhen(parseWhenOrEpoch(rec.Get("end_date")), parseWhenOrEpoch(rec.Get("expected_end_date")))
	if expired(endAt) {
		return model.TrafficEvent{}, false
	}

	headline := firstString(rec, "headline", "description", "event_type")
	if headline == "" {
		headline = "VIC disruption"
	}
	desc := firstString(rec, "advice", "information", "description")

	eventType := firstString(rec, "event_type", "disruption_type")
	if eventType == "" {
		eventType = "disruptions"
	}
	typ, sev := classifyTraffic(headline, desc, eventType)
	switch strings.ToLower(firstString(rec, "severity")) {
	case "high", "critical":
		sev = model.SeverityMajor
	case "medium":
		sev = model.SeverityModerate
	}

	// Point from lat/lng; a road geometry on the record wins when present.
	geom := decodeGeometry(rec.Get("geometry"))
	if geom == nil {
		lat, lng := rec.Get("latitude"), rec.Get("longitude")
		if lat.Exists() && lng.Exists() {
			geom = pointGeom(lng.Float(), lat.Float())
		}
	}
	bb := bboxOf(geom)

	var id string
	if sid := firstString(rec, "id"); sid != "" {
		id = stableID("vic_traffic", "disruptions", sid)
	} else {
		id = stableID("vic_traffic", "disruptions", truncate(headline, 160),
			rec.Get("latitude").String(), rec.Get("longitude").String())
	}

	return model.TrafficEvent{
		ID:          id,
		Source:      "vic_traffic",
		Feed:        "disruptions",
		Type:        typ,
		Severity:    sev,
		Headline:    headline,
		Description: desc,
		IssuedAt:    firstWhen(parseWhenOrEpoch(rec.Get("last_updated")), parseWhenOrEpoch(rec.Get("modified_date")), startAt),
		StartAt:     startAt,
		EndAt:       endAt,
		Geometry:    geom,
		BBox:        bb,
		Region:      "vic",
		Raw:         rawMap(rec),
	}, true
}
