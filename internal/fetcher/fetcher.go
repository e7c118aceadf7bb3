// Package fetcher defines the single-URL fetch contract used by the sitemap
// resolver and the cache warmer, plus the bounded retry wrapper around it.
package fetcher

import (
	"context"
	"net/http"
	"time"

	"github.com/JakeFAU/edge-warmer/internal/target"
)

// Response is the result of one successful GET. Any HTTP status counts as a
// success; only transport-level failures are errors.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Getter performs a GET through the network identity of a domain.
type Getter interface {
	Get(ctx context.Context, rawURL string, id target.Identity) (Response, error)
}

// GetterFunc adapts a function to the Getter interface.
type GetterFunc func(ctx context.Context, rawURL string, id target.Identity) (Response, error)

// Get calls f.
func (f GetterFunc) Get(ctx context.Context, rawURL string, id target.Identity) (Response, error) {
	return f(ctx, rawURL, id)
}
