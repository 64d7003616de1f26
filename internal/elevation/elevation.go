// Package elevation builds route elevation profiles through the
// Open-Elevation lookup API and derives fixed-length grade segments for
// fuel-range estimates.
package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/core/config"
	"github.com/roamtrip/roampack/internal/core/httpclient"
	"github.com/roamtrip/roampack/internal/core/observability"
	"github.com/roamtrip/roampack/internal/keying"
	"github.com/roamtrip/roampack/internal/model"
)

const (
	defaultIntervalM = 500.0
	maxResponseBytes = 8 << 20
	errBodyMax       = 300
)

type Sample struct {
	KmAlong    float64 `json:"km_along"`
	ElevationM float64 `json:"elevation_m"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

type Profile struct {
	RouteKey      string    `json:"route_key,omitempty"`
	Samples       []Sample  `json:"samples"`
	MinElevationM float64   `json:"min_elevation_m"`
	MaxElevationM float64   `json:"max_elevation_m"`
	TotalAscentM  float64   `json:"total_ascent_m"`
	TotalDescentM float64   `json:"total_descent_m"`
	CreatedAt     time.Time `json:"created_at"`
}

type GradeSegment struct {
	FromKm            float64 `json:"from_km"`
	ToKm              float64 `json:"to_km"`
	AvgGradePct       float64 `json:"avg_grade_pct"`
	ElevationChangeM  float64 `json:"elevation_change_m"`
	FuelPenaltyFactor float64 `json:"fuel_penalty_factor"`
}

type Service struct {
	http  *http.Client
	url   string
	batch int
	log   zerolog.Logger
}

func New(hc *http.Client, cfg config.Config, log zerolog.Logger) *Service {
	timeout := cfg.Elevation.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if hc == nil {
		hc = httpclient.NewOutbound(timeout)
	}
	url := cfg.Elevation.URL
	if url == "" {
		url = "https://api.open-elevation.com/api/v1/lookup"
	}
	batch := cfg.Elevation.Batch
	if batch <= 0 {
		batch = 200
	}
	return &Service{
		http:  hc,
		url:   url,
		batch: batch,
		log:   log.With().Str("component", "elevation").Logger(),
	}
}

// Profile samples the geometry at intervalM and looks up an elevation for
// every sample. Stats are computed over the rounded sample values so the
// numbers in the response always add up.
func (s *Service) Profile(ctx context.Context, routeKey, polyline6 string, intervalM float64) (*Profile, error) {
	pts := keying.Polyline6Decode(polyline6)
	if len(pts) < 2 {
		return nil, apperr.Unavailable("Need at least 2 points")
	}
	if intervalM <= 0 {
		intervalM = defaultIntervalM
	}

	coords := samplePolyline(pts, intervalM)
	if len(coords) == 0 {
		return nil, apperr.Unavailable("Failed to sample route")
	}
	elevs, err := s.fetch(ctx, coords)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, len(coords))
	for i, c := range coords {
		samples[i] = Sample{
			KmAlong:    round2(c.km),
			ElevationM: round1(elevs[i]),
			Lat:        keying.Round6(c.lat),
			Lng:        keying.Round6(c.lng),
		}
	}

	minE, maxE := samples[0].ElevationM, samples[0].ElevationM
	var ascent, descent float64
	for i := 1; i < len(samples); i++ {
		e := samples[i].ElevationM
		if e < minE {
			minE = e
		}
		if e > maxE {
			maxE = e
		}
		diff := e - samples[i-1].ElevationM
		if diff > 0 {
			ascent += diff
		} else {
			descent += -diff
		}
	}

	return &Profile{
		RouteKey:      routeKey,
		Samples:       samples,
		MinElevationM: minE,
		MaxElevationM: maxE,
		TotalAscentM:  round1(ascent),
		TotalDescentM: round1(descent),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

type walkPoint struct {
	lat, lng, km float64
}

// samplePolyline walks the geometry emitting a point at every interval
// crossing. The first point is always kept, segments shorter than a
// millimetre are skipped, and the final point is appended unless the walk
// already landed on it.
func samplePolyline(pts []model.LatLng, intervalM float64) []walkPoint {
	if len(pts) == 0 {
		return nil
	}
	samples := []walkPoint{{lat: pts[0].Lat, lng: pts[0].Lng, km: 0}}

	cumulative := 0.0
	nextSample := intervalM
	for i := 1; i < len(pts); i++ {
		p0, p1 := pts[i-1], pts[i]
		seg := model.HaversineM(p0, p1)
		if seg < 1e-3 {
			continue
		}
		for nextSample <= cumulative+seg {
			frac := (nextSample - cumulative) / seg
			if frac < 0 {
				frac = 0
			}
			if frac > 1 {
				frac = 1
			}
			samples = append(samples, walkPoint{
				lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
				lng: p0.Lng + (p1.Lng-p0.Lng)*frac,
				km:  nextSample / 1000,
			})
			nextSample += intervalM
		}
		cumulative += seg
	}

	last := pts[len(pts)-1]
	tail := samples[len(samples)-1]
	if math.Abs(tail.lat-last.Lat) > 1e-7 || math.Abs(tail.lng-last.Lng) > 1e-7 {
		samples = append(samples, walkPoint{lat: last.Lat, lng: last.Lng, km: cumulative / 1000})
	}
	return samples
}

type lookupResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// fetch resolves elevations for every walk point, batched to stay inside the
// API's request limits. Results come back in input order; a count mismatch
// means the upstream is broken and the profile is unavailable. Null
// elevations (open ocean) read as 0.
func (s *Service) fetch(ctx context.Context, coords []walkPoint) ([]float64, error) {
	out := make([]float64, 0, len(coords))
	for start := 0; start < len(coords); start += s.batch {
		end := min(start+s.batch, len(coords))
		batch := coords[start:end]

		locs := make([]map[string]float64, len(batch))
		for i, c := range batch {
			locs[i] = map[string]float64{
				"latitude":  keying.Round6(c.lat),
				"longitude": keying.Round6(c.lng),
			}
		}
		payload, err := json.Marshal(map[string]any{"locations": locs})
		if err != nil {
			return nil, fmt.Errorf("elevation: encode lookup: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("elevation: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "roampack/elevation")

		started := time.Now()
		resp, err := s.http.Do(req)
		observability.ObserveUpstreamLatency("elevation", time.Since(started).Seconds())
		if err != nil {
			return nil, apperr.Unavailablef("Open-Elevation request failed", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if err != nil {
			return nil, apperr.Unavailablef("Open-Elevation response read failed", err)
		}
		if resp.StatusCode != http.StatusOK {
			snippet := string(body)
			if len(snippet) > errBodyMax {
				snippet = snippet[:errBodyMax]
			}
			return nil, apperr.Unavailable(fmt.Sprintf("Open-Elevation returned %d: %s", resp.StatusCode, snippet))
		}

		var lr lookupResponse
		if err := json.Unmarshal(body, &lr); err != nil {
			return nil, apperr.Unavailablef("Open-Elevation response decode failed", err)
		}
		if len(lr.Results) != len(batch) {
			return nil, apperr.Unavailable(fmt.Sprintf("expected %d elevations, got %d", len(batch), len(lr.Results)))
		}
		for _, r := range lr.Results {
			if r.Elevation != nil {
				out = append(out, *r.Elevation)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out, nil
}

// Fuel burn multipliers by average grade band. Bands are half-open
// [lo, hi); a grade of exactly +5% is steep uphill.
var gradeFuelFactors = []struct {
	lo, hi, factor float64
}{
	{-100, -5, 0.85},
	{-5, -2, 0.90},
	{-2, 2, 1.00},
	{2, 5, 1.15},
	{5, 100, 1.35},
}

func fuelFactorForGrade(gradePct float64) float64 {
	for _, b := range gradeFuelFactors {
		if gradePct >= b.lo && gradePct < b.hi {
			return b.factor
		}
	}
	return 1.0
}

// GradeSegments divides a profile into fixed-length segments, each tagged
// with its average grade and a fuel penalty factor. The last segment is
// truncated at the route end.
func GradeSegments(p *Profile, segmentKM float64) []GradeSegment {
	if p == nil || len(p.Samples) < 2 {
		return nil
	}
	if segmentKM <= 0 {
		segmentKM = 5
	}
	totalKM := p.Samples[len(p.Samples)-1].KmAlong

	var segs []GradeSegment
	for startKM := 0.0; startKM < totalKM; {
		endKM := math.Min(startKM+segmentKM, totalKM)
		startE := interpElevation(p.Samples, startKM)
		endE := interpElevation(p.Samples, endKM)

		distKM := endKM - startKM
		change := endE - startE
		grade := 0.0
		if distKM > 0.01 {
			grade = change / (distKM * 1000) * 100
		}

		segs = append(segs, GradeSegment{
			FromKm:            round2(startKM),
			ToKm:              round2(endKM),
			AvgGradePct:       round2(grade),
			ElevationChangeM:  round1(change),
			FuelPenaltyFactor: fuelFactorForGrade(grade),
		})
		startKM = endKM
	}
	return segs
}

func interpElevation(samples []Sample, km float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	if km <= samples[0].KmAlong {
		return samples[0].ElevationM
	}
	last := samples[len(samples)-1]
	if km >= last.KmAlong {
		return last.ElevationM
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].KmAlong >= km {
			prev, curr := samples[i-1], samples[i]
			span := curr.KmAlong - prev.KmAlong
			if span < 1e-6 {
				return curr.ElevationM
			}
			frac := (km - prev.KmAlong) / span
			return prev.ElevationM + (curr.ElevationM-prev.ElevationM)*frac
		}
	}
	return last.ElevationM
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
