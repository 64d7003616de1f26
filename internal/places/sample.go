package places

import (
	"math"

	"github.com/roamtrip/roampack/internal/model"
)

// samplePolyline emits a point roughly every intervalKM kilometres along
// the route, interpolating inside segments. The first point is always
// included; the last is appended when it lands more than 500 m past the
// final sample.
func samplePolyline(pts []model.LatLng, intervalKM float64) []model.LatLng {
	if len(pts) < 2 {
		return nil
	}
	intervalM := math.Max(1000, intervalKM*1000)
	samples := []model.LatLng{pts[0]}

	distAcc := 0.0
	nextMark := intervalM
	for i := 1; i < len(pts); i++ {
		p0, p1 := pts[i-1], pts[i]
		seg := model.HaversineM(p0, p1)
		if math.IsNaN(seg) || seg <= 0 {
			continue
		}
		for distAcc+seg >= nextMark {
			t := math.Max(0, math.Min(1, (nextMark-distAcc)/seg))
			samples = append(samples, model.LatLng{
				Lat: p0.Lat + (p1.Lat-p0.Lat)*t,
				Lng: p0.Lng + (p1.Lng-p0.Lng)*t,
			})
			nextMark += intervalM
		}
		distAcc += seg
	}

	last := pts[len(pts)-1]
	if model.HaversineM(samples[len(samples)-1], last) > 500 {
		samples = append(samples, last)
	}

	// Degenerate geometry (repeated points, zero-length segments) can
	// starve the distance walk. Fall back to evenly spaced decoded points.
	expectedMin := max(2, int(distAcc/intervalM)-1)
	if len(samples) < expectedMin && distAcc > intervalM*2 {
		want := max(2, int(distAcc/intervalM)+2)
		step := max(1, len(pts)/want)
		samples = samples[:0]
		for j := 0; j < len(pts); j += step {
			samples = append(samples, pts[j])
		}
		if model.HaversineM(samples[len(samples)-1], last) > 500 {
			samples = append(samples, last)
		}
	}
	return samples
}

// RouteSample anchors one nearby-places lookup along a route.
type RouteSample struct {
	Idx         int     `json:"idx"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	KMFromStart float64 `json:"km_from_start"`
}

// sampleRoutePoints is the suggest-along-route variant: samples carry
// their km offset, start at km 0, and use a 5 km floor.
func sampleRoutePoints(pts []model.LatLng, intervalKM int) []RouteSample {
	if len(pts) < 2 {
		return nil
	}
	intervalM := math.Max(5000, float64(intervalKM)*1000)
	samples := []RouteSample{{Idx: 0, Lat: pts[0].Lat, Lng: pts[0].Lng, KMFromStart: 0}}

	distAcc := 0.0
	nextMark := 0.0
	for i := 1; i < len(pts); i++ {
		p0, p1 := pts[i-1], pts[i]
		seg := model.HaversineM(p0, p1)
		if seg <= 0 {
			continue
		}
		for distAcc+seg >= nextMark+intervalM {
			t := math.Max(0, math.Min(1, (nextMark+intervalM-distAcc)/seg))
			samples = append(samples, RouteSample{
				Idx:         len(samples),
				Lat:         p0.Lat + (p1.Lat-p0.Lat)*t,
				Lng:         p0.Lng + (p1.Lng-p0.Lng)*t,
				KMFromStart: (nextMark + intervalM) / 1000,
			})
			nextMark += intervalM
		}
		distAcc += seg
	}
	return samples
}

// minDistanceToSamplesM approximates point-to-route distance as the
// distance to the nearest sample. For routes sampled every few km this is
// close enough without segment projection; anything under 500 m is
// accepted immediately.
func minDistanceToSamplesM(lat, lng float64, samples []model.LatLng) float64 {
	best := math.Inf(1)
	p := model.LatLng{Lat: lat, Lng: lng}
	for _, s := range samples {
		d := model.HaversineM(p, s)
		if d < best {
			best = d
			if d < 500 {
				break
			}
		}
	}
	return best
}

// bboxAroundPoints pads a tight box around the points by bufferKM on all
// sides, widening longitude by latitude.
func bboxAroundPoints(pts []model.LatLng, bufferKM float64) model.BBox {
	minLat, maxLat := pts[0].Lat, pts[0].Lat
	minLng, maxLng := pts[0].Lng, pts[0].Lng
	for _, p := range pts[1:] {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLng = math.Min(minLng, p.Lng)
		maxLng = math.Max(maxLng, p.Lng)
	}
	bufLat := bufferKM / 111.32
	cosMid := math.Cos((minLat + maxLat) / 2 * math.Pi / 180)
	if cosMid < 0.2 {
		cosMid = 0.2
	}
	bufLng := bufferKM / (111.32 * cosMid)
	return model.NewBBox(minLng-bufLng, minLat-bufLat, maxLng+bufLng, maxLat+bufLat)
}
