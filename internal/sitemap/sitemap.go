// Package sitemap resolves the page URLs of a domain from its sitemap index.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/fetcher"
	"github.com/JakeFAU/edge-warmer/internal/target"
)

// DefaultIndexPath is where the sitemap index lives relative to a base URL.
const DefaultIndexPath = "/sitemap_index.xml"

// ErrUnavailable marks a sitemap that could not be fetched or decoded.
var ErrUnavailable = errors.New("sitemap unavailable")

// Config controls Resolver behavior.
type Config struct {
	IndexPath string
	Timeout   time.Duration
}

// Resolver flattens a sitemap index and its child sitemaps into one URL list.
type Resolver struct {
	getter fetcher.Getter
	cfg    Config
	logger *zap.Logger
}

// document covers both <sitemapindex> and <urlset> roots.
type document struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// New builds a Resolver.
func New(getter fetcher.Getter, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.IndexPath == "" {
		cfg.IndexPath = DefaultIndexPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{getter: getter, cfg: cfg, logger: logger}
}

// Resolve returns every page URL listed by the domain's child sitemaps, in
// sitemap order. Failures never escape: an unusable index yields an empty
// list and an unusable child sitemap contributes nothing.
func (r *Resolver) Resolve(ctx context.Context, domain target.Domain) []string {
	logger := r.logger.With(zap.String("domain", domain.Key))
	indexURL := domain.Join(r.cfg.IndexPath)

	index, err := r.fetch(ctx, indexURL, domain.Identity)
	if err != nil {
		logger.Warn("sitemap index unavailable", zap.String("sitemap", indexURL), zap.Error(err))
		return []string{}
	}
	children := make([]string, 0, len(index.Sitemaps))
	for _, loc := range index.Sitemaps {
		if ref := domain.Resolve(loc); ref != "" {
			children = append(children, ref)
		}
	}
	if len(children) == 0 {
		logger.Warn("sitemap index lists no child sitemaps", zap.String("sitemap", indexURL))
		return []string{}
	}

	perChild := make([][]string, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child string) {
			defer wg.Done()
			doc, err := r.fetch(ctx, child, domain.Identity)
			if err != nil {
				logger.Warn("child sitemap unavailable", zap.String("sitemap", child), zap.Error(err))
				return
			}
			perChild[i] = doc.URLs
		}(i, child)
	}
	wg.Wait()

	urls := make([]string, 0)
	for _, locs := range perChild {
		for _, loc := range locs {
			if loc != "" {
				urls = append(urls, loc)
			}
		}
	}
	logger.Info("sitemap resolved", zap.Int("child_sitemaps", len(children)), zap.Int("urls", len(urls)))
	return urls
}

func (r *Resolver) fetch(ctx context.Context, sitemapURL string, id target.Identity) (document, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	resp, err := r.getter.Get(ctx, sitemapURL, id)
	if err != nil {
		return document{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return document{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
	doc, err := decode(sitemapURL, resp.Body)
	if err != nil {
		return document{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return doc, nil
}

// decode parses a sitemap body, inflating it first when it is gzip data.
func decode(sitemapURL string, body []byte) (document, error) {
	gzipped := strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") ||
		(len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b)
	if gzipped {
		// A .gz URL served with Content-Encoding: gzip arrives already inflated.
		if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			unzipped, readErr := io.ReadAll(gz)
			_ = gz.Close()
			if readErr == nil {
				body = unzipped
			}
		}
	}

	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return document{}, fmt.Errorf("decode sitemap xml: %w", err)
	}
	for i := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(doc.URLs[i])
	}
	for i := range doc.Sitemaps {
		doc.Sitemaps[i] = strings.TrimSpace(doc.Sitemaps[i])
	}
	return doc, nil
}
