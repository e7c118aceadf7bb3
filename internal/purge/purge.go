// Package purge invalidates single URLs at the CDN edge. Purging is best
// effort: failures are logged and swallowed.
package purge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/metrics"
)

const (
	// DefaultAPIBase is the Cloudflare v4 API root.
	DefaultAPIBase = "https://api.cloudflare.com/client/v4"
	defaultTimeout = 10 * time.Second
)

// Config holds the CDN zone credentials and endpoint.
type Config struct {
	APIBase  string
	ZoneID   string
	APIToken string
	Timeout  time.Duration
}

// Enabled reports whether both the zone id and the token are present.
func (c Config) Enabled() bool {
	return c.ZoneID != "" && c.APIToken != ""
}

// Waiter paces outgoing purge calls.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Client issues zone purge requests.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Waiter
	logger  *zap.Logger
}

// New builds a Client. A nil http client gets a default bounded by
// cfg.Timeout; a nil limiter disables pacing.
func New(cfg Config, httpClient *http.Client, limiter Waiter, logger *zap.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, logger: logger}
}

type purgeRequest struct {
	Files []string `json:"files"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type purgeResponse struct {
	Success bool         `json:"success"`
	Errors  []apiMessage `json:"errors"`
}

// Purge invalidates rawURL. It never returns an error; the outcome only
// reaches diagnostics and metrics.
func (c *Client) Purge(ctx context.Context, rawURL string) {
	if !c.cfg.Enabled() {
		return
	}
	if err := c.purge(ctx, rawURL); err != nil {
		metrics.ObservePurge("failed")
		c.logger.Warn("purge failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	metrics.ObservePurge("purged")
	c.logger.Debug("purged url", zap.String("url", rawURL))
}

func (c *Client) purge(ctx context.Context, rawURL string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.cfg.ZoneID); err != nil {
			return err
		}
	}

	body, err := json.Marshal(purgeRequest{Files: []string{rawURL}})
	if err != nil {
		return fmt.Errorf("encode purge request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", c.cfg.APIBase, c.cfg.ZoneID)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post purge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read purge response: %w", err)
	}
	var out purgeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode purge response (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		return fmt.Errorf("purge rejected (status %d): %s", resp.StatusCode, describe(out.Errors))
	}
	return nil
}

func describe(errs []apiMessage) string {
	if len(errs) == 0 {
		return "no error detail"
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%d %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}
