package overlays

import (
	"bytes"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/roamtrip/roampack/internal/model"
)

// parseWarningFeed normalizes an RSS/Atom warnings feed (BOM's per-state
// warning feeds, and the RSS fallback for CAP sources that wrap their
// payload in a feed). RSS items carry no CAP dimensions and no geometry:
// severity and kind come from the wording, urgency and certainty stay
// unknown, and admission falls back to the loose bbox rule.
func parseWarningFeed(data []byte, source, region string) []model.HazardEvent {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil || feed == nil {
		return nil
	}

	var out []model.HazardEvent
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		title := item.Title
		desc := item.Description
		if title == "" && desc == "" {
			continue
		}

		var issued *time.Time
		if item.PublishedParsed != nil {
			u := item.PublishedParsed.UTC()
			issued = &u
		} else if item.UpdatedParsed != nil {
			u := item.UpdatedParsed.UTC()
			issued = &u
		}

		sev := capSeverityFromText(title, desc)
		eventTitle := title
		if eventTitle == "" {
			eventTitle = "Warning"
		}

		out = append(out, model.HazardEvent{
			ID: stableID(source, region, truncate(title, 160),
				truncate(item.Link, 160), truncate(item.Published, 80)),
			Source:            source,
			Kind:              hazardKindFromText(title, ""),
			Severity:          sev,
			Urgency:           model.CAPUrgUnknown,
			Certainty:         model.CAPCerUnknown,
			EffectivePriority: effectivePriority(sev, model.CAPUrgUnknown, model.CAPCerUnknown),
			Title:             eventTitle,
			Description:       desc,
			URL:               item.Link,
			IssuedAt:          issued,
			Region:            region,
		})
	}
	return out
}
