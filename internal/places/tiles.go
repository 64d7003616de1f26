package places

import (
	"math"
	"strconv"
	"strings"

	"github.com/roamtrip/roampack/internal/model"
)

// Tile is one cell of the fetch grid laid over a bbox query.
type Tile struct {
	Key  string
	BBox model.BBox
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// tileKeyFor is deterministic by grid step and tile corner, so repeat
// queries over the same area land on the same ledger rows.
func tileKeyFor(stepDeg float64, b model.BBox) string {
	var sb strings.Builder
	sb.WriteString("tile:")
	sb.WriteString(fmtCoord(stepDeg))
	sb.WriteString(":")
	sb.WriteString(fmtCoord(b.MinLat()))
	sb.WriteString(",")
	sb.WriteString(fmtCoord(b.MinLng()))
	sb.WriteString(",")
	sb.WriteString(fmtCoord(b.MaxLat()))
	sb.WriteString(",")
	sb.WriteString(fmtCoord(b.MaxLng()))
	return sb.String()
}

// tilesForBBox cuts the bbox into stepDeg cells, south to north then west
// to east, stopping at maxTiles. Edge cells are clamped to the bbox so a
// 0.4 degree box with a 0.15 step produces 0.15/0.15/0.10 strips.
func tilesForBBox(b model.BBox, stepDeg float64, maxTiles int) []Tile {
	if stepDeg <= 0 {
		stepDeg = 0.15
	}
	var tiles []Tile
	for lat := b.MinLat(); lat < b.MaxLat(); {
		lat2 := math.Min(b.MaxLat(), lat+stepDeg)
		for lng := b.MinLng(); lng < b.MaxLng(); {
			lng2 := math.Min(b.MaxLng(), lng+stepDeg)
			tb := model.NewBBox(lng, lat, lng2, lat2)
			tiles = append(tiles, Tile{Key: tileKeyFor(stepDeg, tb), BBox: tb})
			if len(tiles) >= maxTiles {
				return tiles
			}
			lng = lng2
		}
		lat = lat2
	}
	return tiles
}
