package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/metrics"
	"github.com/JakeFAU/edge-warmer/internal/target"
)

const (
	// DefaultMaxAttempts caps the number of GETs per URL.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the fixed pause between attempts.
	DefaultBackoff = 2 * time.Second
)

// Classifier reports whether a failed attempt may be retried.
type Classifier func(err error) bool

// Sleeper pauses between attempts. It returns early with an error if ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// IsTransient matches the connection-level failures worth another attempt:
// aborted or reset connections and timeouts. DNS, TLS, and malformed
// responses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// RetryConfig controls Retrier behavior.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Classify    Classifier
	Sleep       Sleeper
}

// Retrier wraps a Getter with a fixed-backoff retry loop. It satisfies Getter
// itself so callers cannot tell whether retries are in play.
type Retrier struct {
	next   Getter
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetrier builds a Retrier, filling zero config values with defaults.
func NewRetrier(next Getter, cfg RetryConfig, logger *zap.Logger) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Classify == nil {
		cfg.Classify = IsTransient
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepWithContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{next: next, cfg: cfg, logger: logger}
}

// Get attempts the GET up to MaxAttempts times. Only errors accepted by the
// classifier are retried; anything else, or exhaustion, returns the last
// error unchanged.
func (r *Retrier) Get(ctx context.Context, rawURL string, id target.Identity) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.next.Get(ctx, rawURL, id)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err
		if !r.cfg.Classify(err) || attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn("transient fetch failure; retrying",
			zap.String("url", rawURL),
			zap.String("domain", id.Domain),
			zap.String("label", id.Label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", r.cfg.Backoff),
			zap.Error(err),
		)
		metrics.ObserveRetry(id.Domain)
		if err := r.cfg.Sleep(ctx, r.cfg.Backoff); err != nil {
			return Response{}, fmt.Errorf("retry backoff: %w", err)
		}
	}
	return Response{}, lastErr
}

// SleepWithContext waits for delay or until ctx is done.
func SleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
