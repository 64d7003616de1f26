package httpapi

import (
	"net/http"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/engine"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/places"
)

// defaultSuggestCategories is the stop-worthy subset surfaced while a trip is
// being planned, as opposed to the fuller set baked into offline bundles.
var defaultSuggestCategories = []string{
	"fuel", "toilet", "town",
	"cafe", "restaurant", "fast_food",
	"viewpoint", "attraction",
	"camp", "water",
	"hotel", "motel",
}

func (a *api) placesSearch(w http.ResponseWriter, r *http.Request) {
	var q model.PlacesQuery
	if !decodeJSON(w, r, &a.log, &q) {
		return
	}
	pack, err := a.places.Search(r.Context(), q)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

type corridorPlacesRequest struct {
	CorridorKey string   `json:"corridor_key"`
	Categories  []string `json:"categories,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// placesCorridor searches the stored corridor's bounding box. The corridor
// pack must already exist; building one here would hide an expensive edge
// query behind what reads like a cache lookup.
func (a *api) placesCorridor(w http.ResponseWriter, r *http.Request) {
	var req corridorPlacesRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.CorridorKey == "" {
		writeError(r, w, &a.log, apperr.BadRequest("corridor_key required"))
		return
	}

	cpack, err := a.corridor.Get(r.Context(), req.CorridorKey)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}

	cats := req.Categories
	if len(cats) == 0 {
		cats = engine.DefaultBundleCategories
	}
	limit := req.Limit
	if limit <= 0 {
		limit = engine.BundlePlacesLimit
	}

	pack, err := a.places.Search(r.Context(), model.PlacesQuery{
		BBox:       &cpack.BBox,
		Categories: cats,
		Limit:      limit,
	})
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

type placesSuggestRequest struct {
	Geometry       string   `json:"geometry"`
	IntervalKM     int      `json:"interval_km,omitempty"`
	RadiusM        int      `json:"radius_m,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	LimitPerSample int      `json:"limit_per_sample,omitempty"`
}

type placesSuggestResponse struct {
	Clusters []places.Suggestion `json:"clusters"`
}

func (a *api) placesSuggest(w http.ResponseWriter, r *http.Request) {
	var req placesSuggestRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	if req.Geometry == "" {
		writeError(r, w, &a.log, apperr.BadRequest("geometry (polyline6) is required"))
		return
	}

	intervalKM := req.IntervalKM
	if intervalKM <= 0 {
		intervalKM = 50
	}
	radiusM := req.RadiusM
	if radiusM <= 0 {
		radiusM = 15000
	}
	limitPerSample := req.LimitPerSample
	if limitPerSample <= 0 {
		limitPerSample = 150
	}
	cats := req.Categories
	if len(cats) == 0 {
		cats = defaultSuggestCategories
	}

	clusters, err := a.places.SuggestAlongRoute(r.Context(), req.Geometry, intervalKM, radiusM, cats, limitPerSample)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	if clusters == nil {
		clusters = []places.Suggestion{}
	}
	writeJSON(w, http.StatusOK, placesSuggestResponse{Clusters: clusters})
}
