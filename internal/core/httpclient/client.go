// Package httpclient configures the HTTP clients used to call upstream
// services (routing engine, Overpass, elevation, overlay feeds, POI pool).
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound returns a client tuned for the fan-out workload: many short
// requests against a small set of hosts. The per-call deadline comes from the
// request context; timeout here is only the last-resort cap.
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
