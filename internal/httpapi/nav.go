package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/model"
)

func (a *api) navRoute(w http.ResponseWriter, r *http.Request) {
	var req model.NavRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	route, err := a.routing.Route(r.Context(), req)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type corridorEnsureRequest struct {
	RouteKey string  `json:"route_key"`
	Geometry string  `json:"geometry"`
	Profile  string  `json:"profile,omitempty"`
	BufferM  float64 `json:"buffer_m,omitempty"`
	MaxEdges int     `json:"max_edges,omitempty"`
}

func (a *api) corridorEnsure(w http.ResponseWriter, r *http.Request) {
	var req corridorEnsureRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.RouteKey == "" {
		writeError(r, w, &a.log, apperr.BadRequest("route_key is required"))
		return
	}
	if req.Geometry == "" {
		writeError(r, w, &a.log, apperr.BadRequest("geometry (polyline6) is required"))
		return
	}

	profile := req.Profile
	if profile == "" {
		profile = "drive"
	}
	bufferM := req.BufferM
	if bufferM <= 0 {
		bufferM = a.cfg.CorridorBufferM
	}
	maxEdges := req.MaxEdges
	if maxEdges <= 0 {
		maxEdges = a.cfg.CorridorMaxEdges
	}

	pack, err := a.corridor.Ensure(r.Context(), req.RouteKey, req.Geometry, profile, bufferM, maxEdges)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack.Meta())
}

func (a *api) corridorGet(w http.ResponseWriter, r *http.Request) {
	pack, err := a.corridor.Get(r.Context(), chi.URLParam(r, "corridorKey"))
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

type overlayPollRequest struct {
	BBox         *model.BBox `json:"bbox"`
	Sources      []string    `json:"sources,omitempty"`
	CacheSeconds int         `json:"cache_seconds,omitempty"`
	TimeoutS     float64     `json:"timeout_s,omitempty"`
}

func (p overlayPollRequest) durations() (cacheFor, timeout time.Duration) {
	if p.CacheSeconds > 0 {
		cacheFor = time.Duration(p.CacheSeconds) * time.Second
	}
	if p.TimeoutS > 0 {
		timeout = time.Duration(p.TimeoutS * float64(time.Second))
	}
	return cacheFor, timeout
}

func (a *api) trafficPoll(w http.ResponseWriter, r *http.Request) {
	var req overlayPollRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.BBox == nil {
		writeError(r, w, &a.log, apperr.BadRequest("bbox required"))
		return
	}
	cacheFor, timeout := req.durations()
	pack, err := a.traffic.Poll(r.Context(), *req.BBox, cacheFor, timeout)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

func (a *api) hazardsPoll(w http.ResponseWriter, r *http.Request) {
	var req overlayPollRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.BBox == nil {
		writeError(r, w, &a.log, apperr.BadRequest("bbox required"))
		return
	}
	cacheFor, timeout := req.durations()
	pack, err := a.hazards.Poll(r.Context(), *req.BBox, req.Sources, cacheFor, timeout)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}
