package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roamtrip/roampack/internal/engine"
)

func (a *api) bundleBuild(w http.ResponseWriter, r *http.Request) {
	var req engine.BuildRequest
	if !decodeJSON(w, r, &a.log, &req) {
		return
	}
	manifest, err := a.engine.BuildBundle(r.Context(), req)
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (a *api) bundleManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := a.bundle.Manifest(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (a *api) bundleDownload(w http.ResponseWriter, r *http.Request) {
	res, err := a.bundle.BuildZip(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(r, w, &a.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "roam_bundle_"+res.PlanID+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.ZipBytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.ZipBytes)
}
