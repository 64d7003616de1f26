package httpapi

import (
	"net/http"

	"github.com/roamtrip/roampack/internal/geocode"
)

func (a *api) geocodeForward(w http.ResponseWriter, r *http.Request) {
	var req geocode.Request
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	pack, err := a.geocode.Forward(r.Context(), req)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}
