package retrieval

import (
	"context"
	"net/http"
	"time"
)

// Transport performs a single HTTP GET honoring the limits carried by the request.
// Implementations follow redirects themselves and report every hop in order.
type Transport interface {
	Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

// TransportRequest carries the location and the per-request limits.
type TransportRequest struct {
	URL          string
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Headers      map[string]string
}

// TransportResponse is the raw result of a request with an already decompressed body.
type TransportResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RedirectChain lists the ASCII form of every followed redirect target in order.
	RedirectChain []string
}
