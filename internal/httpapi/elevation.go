package httpapi

import (
	"net/http"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/elevation"
)

type elevationProfileRequest struct {
	Geometry  string  `json:"geometry"`
	RouteKey  string  `json:"route_key,omitempty"`
	IntervalM float64 `json:"interval_m,omitempty"`
	SegmentKM float64 `json:"segment_km,omitempty"`
}

type elevationProfileResponse struct {
	Profile *elevation.Profile       `json:"profile"`
	Grades  []elevation.GradeSegment `json:"grades"`
}

func (a *api) elevationProfile(w http.ResponseWriter, r *http.Request) {
	var req elevationProfileRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.Geometry == "" {
		writeError(r, w, &a.log, apperr.BadRequest("geometry (polyline6) is required"))
		return
	}

	profile, err := a.elevation.Profile(r.Context(), req.RouteKey, req.Geometry, req.IntervalM)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}

	segmentKM := req.SegmentKM
	if segmentKM <= 0 {
		segmentKM = 5
	}
	grades := elevation.GradeSegments(profile, segmentKM)
	if grades == nil {
		grades = []elevation.GradeSegment{}
	}

	writeJSON(w, http.StatusOK, elevationProfileResponse{Profile: profile, Grades: grades})
}
