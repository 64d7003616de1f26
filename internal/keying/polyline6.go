package keying

import (
	"math"
	"strings"

	"github.com/roamtrip/roampack/internal/model"
)

// Polyline6 is the Google polyline bit layout at 1e-6 degree precision.
const polylineScale = 1e6

func Polyline6Encode(coords []model.LatLng) string {
	var sb strings.Builder
	var prevLat, prevLng int64
	for _, c := range coords {
		lat := int64(math.Round(c.Lat * polylineScale))
		lng := int64(math.Round(c.Lng * polylineScale))
		writeDelta(&sb, lat-prevLat)
		writeDelta(&sb, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return sb.String()
}

func writeDelta(sb *strings.Builder, d int64) {
	v := d << 1
	if d < 0 {
		v = ^v
	}
	for v >= 0x20 {
		sb.WriteByte(byte(0x20|(v&0x1f)) + 63)
		v >>= 5
	}
	sb.WriteByte(byte(v) + 63)
}

// Polyline6Decode is tolerant of a truncated tail: it returns every complete
// coordinate pair it could read.
func Polyline6Decode(s string) []model.LatLng {
	var coords []model.LatLng
	var lat, lng int64
	i := 0
	for i < len(s) {
		dLat, ni, ok := readDelta(s, i)
		if !ok {
			break
		}
		dLng, nj, ok := readDelta(s, ni)
		if !ok {
			break
		}
		i = nj
		lat += dLat
		lng += dLng
		coords = append(coords, model.LatLng{
			Lat: float64(lat) / polylineScale,
			Lng: float64(lng) / polylineScale,
		})
	}
	return coords
}

func readDelta(s string, i int) (int64, int, bool) {
	var result int64
	var shift uint
	for {
		if i >= len(s) {
			return 0, i, false
		}
		b := int64(s[i]) - 63
		i++
		if b < 0 {
			return 0, i, false
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, true
	}
	return result >> 1, i, true
}
