// Package collyfetcher implements fetcher.Getter using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/edge-warmer/internal/fetcher"
	"github.com/JakeFAU/edge-warmer/internal/target"
)

const (
	defaultTimeout = 30 * time.Second
	// DefaultMaxBodySize matches colly's own read limit.
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// ErrBodyTruncated marks a kept body that hit MaxBodySize. Colly stops reading
// at the limit without an error, so the bytes cannot be trusted as complete.
var ErrBodyTruncated = errors.New("response body reached size limit")

// Config controls collector behavior shared by every identity.
//   - MaxBodySize: bytes read per response (default DefaultMaxBodySize).
//   - KeepBody: copy the body into Response. Callers that only inspect
//     headers leave it off so bodies are released with the response.
type Config struct {
	Timeout     time.Duration
	MaxBodySize int
	KeepBody    bool
}

// Fetcher performs single GETs through a per-identity Colly collector. Each
// distinct proxy/user agent pair gets its own transport so proxies never leak
// between domains.
type Fetcher struct {
	cfg Config

	mu         sync.Mutex
	collectors map[identityKey]*colly.Collector
}

type identityKey struct {
	proxy     string
	userAgent string
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Fetcher{
		cfg:        cfg,
		collectors: make(map[identityKey]*colly.Collector),
	}
}

// Get executes a single HTTP GET. Non-2xx statuses are returned as responses,
// not errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string, id target.Identity) (fetcher.Response, error) {
	base, err := f.collectorFor(id)
	if err != nil {
		return fetcher.Response{}, err
	}
	collector := base.Clone()
	collector.Context = ctx

	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := collector.Visit(rawURL); err != nil {
		return fetcher.Response{}, err
	}
	if fetchErr != nil {
		return fetcher.Response{}, fetchErr
	}
	if result.StatusCode == 0 {
		return fetcher.Response{}, fmt.Errorf("colly fetch produced no response for %s", rawURL)
	}
	return result, nil
}

func (f *Fetcher) collectorFor(id target.Identity) (*colly.Collector, error) {
	key := identityKey{proxy: id.Proxy, userAgent: id.UserAgent}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collectors[key]; ok {
		return c, nil
	}

	transport, err := newHTTPTransport(id.Proxy)
	if err != nil {
		return nil, err
	}
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	}
	if id.UserAgent != "" {
		opts = append(opts, colly.UserAgent(id.UserAgent))
	}
	opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodySize))
	c := colly.NewCollector(opts...)
	c.ParseHTTPErrorResponse = true
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)

	f.collectors[key] = c
	return c, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Duration:   time.Since(start),
		}
		if !f.cfg.KeepBody {
			return
		}
		if len(r.Body) >= f.cfg.MaxBodySize {
			*fetchErr = fmt.Errorf("%w: %d bytes from %s", ErrBodyTruncated, f.cfg.MaxBodySize, r.Request.URL)
			return
		}
		result.Body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func newHTTPTransport(proxy string) (*http.Transport, error) {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		t.Proxy = http.ProxyURL(u)
	}
	return t, nil
}
