package overlays

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/roamtrip/roampack/internal/geojson"
	"github.com/roamtrip/roampack/internal/model"
)

// xmlNode is a minimal DOM keyed by local names. CAP-AU documents arrive
// with inconsistent namespace prefixes across agencies, so matching on
// the local name is the only portable way to read them.
type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

func parseXMLDoc(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	// Pass non-UTF8 declarations through untouched; the fields we read
	// are ASCII in practice.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	root := &xmlNode{}
	stack := []*xmlNode{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text += string(t)
		}
	}
	return root, nil
}

// find returns the first node (pre-order, self included) with the local name.
func (n *xmlNode) find(name string) *xmlNode {
	if n.name == name {
		return n
	}
	for _, c := range n.children {
		if m := c.find(name); m != nil {
			return m
		}
	}
	return nil
}

// all returns every descendant (self included) with the local name.
func (n *xmlNode) all(name string) []*xmlNode {
	var out []*xmlNode
	var rec func(*xmlNode)
	rec = func(cur *xmlNode) {
		if cur.name == name {
			out = append(out, cur)
		}
		for _, c := range cur.children {
			rec(c)
		}
	}
	rec(n)
	return out
}

func (n *xmlNode) firstText(name string) string {
	if m := n.find(name); m != nil {
		return strings.TrimSpace(m.text)
	}
	return ""
}

// parseCAPRing parses a CAP polygon value: "lat,lon lat,lon ...". The
// returned GeoJSON ring is closed. Rings under 3 points are dropped.
func parseCAPRing(text string) [][]float64 {
	var pts [][]float64
	for _, part := range strings.Fields(strings.ReplaceAll(text, "\n", " ")) {
		a, b, ok := strings.Cut(part, ",")
		if !ok {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		pts = append(pts, []float64{lon, lat})
	}
	if len(pts) < 3 {
		return nil
	}
	first, last := pts[0], pts[len(pts)-1]
	if first[0] != last[0] || first[1] != last[1] {
		pts = append(pts, first)
	}
	return pts
}

// capInfoGeometry collects area polygons (preferred) or the first circle
// center as a point.
func capInfoGeometry(info *xmlNode) *geojson.Geometry {
	var rings [][][]float64
	var points [][]float64

	for _, area := range info.all("area") {
		for _, poly := range area.all("polygon") {
			if ring := parseCAPRing(poly.text); ring != nil {
				rings = append(rings, ring)
			}
		}
		for _, cir := range area.all("circle") {
			bits := strings.Fields(strings.ReplaceAll(strings.TrimSpace(cir.text), ",", " "))
			if len(bits) < 2 {
				continue
			}
			lat, err1 := strconv.ParseFloat(bits[0], 64)
			lon, err2 := strconv.ParseFloat(bits[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			points = append(points, []float64{lon, lat})
		}
	}

	if len(rings) > 0 {
		return polygonGeom(rings)
	}
	if len(points) > 0 {
		return pointGeom(points[0][0], points[0][1])
	}
	return nil
}

// parseCAP normalizes a CAP-AU document (or a feed wrapping several alert
// blocks) into hazard events, one per info block. Cancelled alerts and
// expired infos are dropped.
func parseCAP(data []byte, source, region string) []model.HazardEvent {
	root, err := parseXMLDoc(data)
	if err != nil {
		return nil
	}

	if strings.ToLower(root.firstText("status")) == "cancel" {
		return nil
	}
	identifier := root.firstText("identifier")
	sent := root.firstText("sent")

	var out []model.HazardEvent
	for _, info := range root.all("info") {
		expires := info.firstText("expires")
		endAt := parseWhen(expires)
		if expired(endAt) {
			continue
		}

		eventName := info.firstText("event")
		title := info.firstText("headline")
		if title == "" {
			title = eventName
		}
		if title == "" {
			title = "Warning"
		}
		desc := info.firstText("description")
		if desc == "" {
			desc = info.firstText("instruction")
		}

		sev := normalizeCAPSeverity(info.firstText("severity"))
		urg := normalizeCAPUrgency(info.firstText("urgency"))
		cer := normalizeCAPCertainty(info.firstText("certainty"))

		onset := info.firstText("onset")
		effective := info.firstText("effective")
		startRaw := effective
		if startRaw == "" {
			startRaw = onset
		}

		geom := capInfoGeometry(info)

		out = append(out, model.HazardEvent{
			ID: stableID(source, region, identifier, truncate(title, 160),
				truncate(startRaw, 80), truncate(expires, 80)),
			Source:            source,
			Kind:              hazardKindFromText(title, eventName),
			Severity:          sev,
			Urgency:           urg,
			Certainty:         cer,
			EffectivePriority: effectivePriority(sev, urg, cer),
			Title:             title,
			Description:       desc,
			URL:               info.firstText("web"),
			IssuedAt:          parseWhen(sent),
			StartAt:           firstWhen(parseWhen(startRaw), parseWhen(sent)),
			EndAt:             endAt,
			Geometry:          geom,
			BBox:              bboxOf(geom),
			Region:            region,
		})
	}
	return out
}
