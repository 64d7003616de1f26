// Package health serves the probe endpoints. Liveness says the process is
// up; readiness says the edge graph is reachable, without which corridor
// builds cannot run.
package health

import (
	"context"
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Readiness(ctx context.Context) (ready bool, edgeCount int64)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Edges  int64  `json:"edges,omitempty"`
		}
		ready, edges := rr.Readiness(r.Context())
		out := resp{Status: "not_ready"}
		if ready {
			out.Status = "ready"
			out.Edges = edges
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
