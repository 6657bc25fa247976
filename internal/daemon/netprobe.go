package daemon

import (
	"context"
	"net/http"
	"time"
)

// NetworkProbe reports whether the remote service is reachable.
// The sync manager polls it to drive the Offline/Online state machine.
type NetworkProbe interface {
	// Online performs one reachability check.
	Online(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request against the API URL.
// Any response at all counts as online; only transport failures count as
// offline, since an HTTP error still proves the network path works.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe against the given URL.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Online implements NetworkProbe.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StaticProbe is a NetworkProbe with a fixed answer. Useful for tests and
// for forcing offline mode from configuration.
type StaticProbe bool

// Online implements NetworkProbe.
func (p StaticProbe) Online(ctx context.Context) bool {
	return bool(p)
}
