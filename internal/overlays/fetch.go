package overlays

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roamtrip/roampack/internal/core/observability"
)

// Feed bodies top out around a few MB (QLD full snapshot, DEA hotspots);
// the limit only guards against a misbehaving upstream.
const maxFeedBytes = 32 << 20

// fetchBody GETs a feed and returns its bytes. Non-200 responses are
// errors; callers turn errors into pack warnings, never into failures.
func fetchBody(ctx context.Context, hc *http.Client, rawURL string, header http.Header, upstream string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "roampack/overlays")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: status %d", upstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", upstream, err)
	}
	return body, nil
}

// withQuery appends a query parameter to a URL that may already carry one.
func withQuery(rawURL, key, val string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(val)
}
