// Package overlays builds the traffic and hazard layers that ride on top
// of a corridor: live road events from the state traffic feeds and
// emergency warnings from BOM, the state fire services and the DEA
// hotspot network. A poll fans out to every feed whose jurisdiction
// overlaps the query bbox, tolerates per-source failure, and folds the
// survivors into one deterministic, cacheable pack.
package overlays

import (
	"sort"

	"github.com/roamtrip/roampack/internal/model"
)

// looseAdmitDiagonalDeg gates events that carry no geometry: they are only
// admitted when the query window is regional scale, where "somewhere in
// this state" is still useful information.
const looseAdmitDiagonalDeg = 0.35

// Approximate jurisdiction windows (minLng, minLat, maxLng, maxLat).
// Overlap at borders is intentional: a border corridor should query both
// sides rather than miss one.
var stateBounds = map[string]model.BBox{
	"qld": model.NewBBox(137.5, -29.5, 154.5, -9.5),
	"nsw": model.NewBBox(140.5, -37.6, 154.0, -27.5),
	"vic": model.NewBBox(140.5, -39.3, 150.5, -33.5),
	"sa":  model.NewBBox(128.5, -38.2, 141.5, -25.5),
	"wa":  model.NewBBox(112.5, -35.2, 129.5, -13.5),
	"nt":  model.NewBBox(128.5, -26.5, 138.5, -10.5),
	"tas": model.NewBBox(143.5, -43.8, 149.0, -39.3),
	"act": model.NewBBox(148.5, -36.0, 149.5, -35.0),
}

// StatesForBBox returns the sorted state/territory codes whose bounds
// overlap the given bbox.
func StatesForBBox(b model.BBox) []string {
	var out []string
	for code, bounds := range stateBounds {
		if bounds.Intersects(b) {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// withNSWForACT folds the ACT into NSW: Canberra has no road-event feed of
// its own, so an ACT overlap rides on the NSW sources.
func withNSWForACT(states []string) []string {
	hasACT, hasNSW := false, false
	for _, s := range states {
		if s == "act" {
			hasACT = true
		}
		if s == "nsw" {
			hasNSW = true
		}
	}
	if hasACT && !hasNSW {
		states = append(states, "nsw")
		sort.Strings(states)
	}
	return states
}

// admitEvent decides whether an event belongs in the response for the
// query bbox. Events with a footprint must intersect it; events without
// one ride on the loose flag.
func admitEvent(evBBox *model.BBox, query model.BBox, loose bool) bool {
	if evBBox != nil {
		return evBBox.Intersects(query)
	}
	return loose
}
