// Package warmer requests every URL of a domain in paced batches, records a
// run log row per URL, and purges URLs the secondary cache reported cold.
package warmer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/fetcher"
	"github.com/JakeFAU/edge-warmer/internal/metrics"
	"github.com/JakeFAU/edge-warmer/internal/runlog"
	"github.com/JakeFAU/edge-warmer/internal/target"
)

const (
	// NotApplicable stands in for absent headers and unparseable trace ids.
	NotApplicable = "N/A"

	defaultInterBatchDelay = 2 * time.Second
)

// Config controls batching and which headers carry cache diagnostics.
type Config struct {
	BatchSize            int
	InterBatchDelay      time.Duration
	EdgeCacheHeader      string
	SecondaryCacheHeader string
	TraceHeader          string
	// Sleep paces batches; nil uses fetcher.SleepWithContext.
	Sleep fetcher.Sleeper
}

// Purger invalidates a single URL. Implementations absorb their own errors.
type Purger interface {
	Purge(ctx context.Context, rawURL string)
}

// RowLogger receives one row per warmed URL.
type RowLogger interface {
	Log(fields runlog.Fields)
}

// Stats summarizes one Warm call.
type Stats struct {
	URLs    int
	Batches int
	Warmed  int
	Failed  int
	Purged  int // URLs handed to the purger
}

// Warmer drives batched warming for one domain at a time. It is safe to share
// across domains. Purges run in the background and outlive Warm; call Drain
// before treating a run as finished.
type Warmer struct {
	getter fetcher.Getter
	purger Purger
	cfg    Config
	logger *zap.Logger

	purges sync.WaitGroup
}

// New builds a Warmer. A nil purger disables purging.
func New(getter fetcher.Getter, purger Purger, cfg Config, logger *zap.Logger) *Warmer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = defaultInterBatchDelay
	}
	if cfg.EdgeCacheHeader == "" {
		cfg.EdgeCacheHeader = "Cf-Cache-Status"
	}
	if cfg.SecondaryCacheHeader == "" {
		cfg.SecondaryCacheHeader = "X-Litespeed-Cache"
	}
	if cfg.TraceHeader == "" {
		cfg.TraceHeader = "Cf-Ray"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = fetcher.SleepWithContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{getter: getter, purger: purger, cfg: cfg, logger: logger}
}

// Batches splits urls into consecutive chunks of at most size elements,
// preserving order.
func Batches(urls []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	out := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		out = append(out, urls[start:end])
	}
	return out
}

// Warm requests every URL. Batches run one after another with the configured
// delay between them; URLs inside a batch run concurrently. Individual
// failures are logged and never stop the run.
func (w *Warmer) Warm(ctx context.Context, domain target.Domain, urls []string, rows RowLogger) Stats {
	batches := Batches(urls, w.cfg.BatchSize)
	var tally counters

	logger := w.logger.With(zap.String("domain", domain.Key))
	for i, batch := range batches {
		if i > 0 && w.cfg.InterBatchDelay > 0 {
			if err := w.cfg.Sleep(ctx, w.cfg.InterBatchDelay); err != nil {
				logger.Warn("warming stopped between batches",
					zap.Int("completed_batches", i),
					zap.Int("total_batches", len(batches)),
					zap.Error(err),
				)
				break
			}
		}

		var wg sync.WaitGroup
		for _, rawURL := range batch {
			wg.Add(1)
			go func(rawURL string) {
				defer wg.Done()
				w.warmOne(ctx, domain, rawURL, rows, &tally)
			}(rawURL)
		}
		wg.Wait()
		tally.batches.Add(1)
	}

	stats := tally.snapshot(len(urls))
	logger.Info("domain warmed",
		zap.Int("urls", stats.URLs),
		zap.Int("batches", stats.Batches),
		zap.Int("warmed", stats.Warmed),
		zap.Int("failed", stats.Failed),
		zap.Int("purged", stats.Purged),
	)
	return stats
}

func (w *Warmer) warmOne(ctx context.Context, domain target.Domain, rawURL string, rows RowLogger, tally *counters) {
	start := time.Now()
	resp, err := w.getter.Get(ctx, rawURL, domain.Identity)
	elapsed := time.Since(start)

	if err != nil {
		tally.failed.Add(1)
		metrics.ObserveWarm(domain.Key, "failed", elapsed)
		w.logger.Warn("warm request failed",
			zap.String("domain", domain.Key),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		rows.Log(runlog.Fields{
			Country:        domain.Identity.Label,
			URL:            rawURL,
			ResponseTimeMs: elapsed.Milliseconds(),
			Error:          true,
			Message:        err.Error(),
		})
		return
	}

	edge := headerOrNA(resp.Headers.Get(w.cfg.EdgeCacheHeader))
	secondary := headerOrNA(resp.Headers.Get(w.cfg.SecondaryCacheHeader))
	trace := headerOrNA(resp.Headers.Get(w.cfg.TraceHeader))

	tally.warmed.Add(1)
	metrics.ObserveWarm(domain.Key, "success", elapsed)
	metrics.ObserveCacheStatus(domain.Key, "edge", edge)
	metrics.ObserveCacheStatus(domain.Key, "secondary", secondary)

	rows.Log(runlog.Fields{
		Country:        EdgeLocation(trace),
		URL:            rawURL,
		Status:         resp.StatusCode,
		EdgeCache:      edge,
		SecondaryCache: secondary,
		TraceID:        trace,
		ResponseTimeMs: elapsed.Milliseconds(),
	})

	if NeedsPurge(secondary) && w.purger != nil {
		tally.purged.Add(1)
		w.purges.Add(1)
		go w.purge(ctx, domain.Key, rawURL)
	}
}

// purge runs off the batch barrier so a throttled purge API cannot stall the
// next batch.
func (w *Warmer) purge(ctx context.Context, domainKey, rawURL string) {
	defer w.purges.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("purge panicked",
				zap.String("domain", domainKey),
				zap.String("url", rawURL),
				zap.Any("panic", r),
			)
		}
	}()
	w.purger.Purge(ctx, rawURL)
}

// Drain blocks until every purge dispatched so far has returned.
func (w *Warmer) Drain() {
	w.purges.Wait()
}

// NeedsPurge reports whether a secondary cache status is anything but a hit.
func NeedsPurge(secondaryStatus string) bool {
	return !strings.EqualFold(strings.TrimSpace(secondaryStatus), "hit")
}

// EdgeLocation extracts the location token from a trace id shaped like
// "<id>-<location>". Anything else yields NotApplicable.
func EdgeLocation(trace string) string {
	parts := strings.SplitN(strings.TrimSpace(trace), "-", 2)
	if len(parts) < 2 || parts[1] == "" {
		return NotApplicable
	}
	return parts[1]
}

func headerOrNA(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return NotApplicable
	}
	return v
}

type counters struct {
	batches atomic.Int64
	warmed  atomic.Int64
	failed  atomic.Int64
	purged  atomic.Int64
}

func (c *counters) snapshot(urls int) Stats {
	return Stats{
		URLs:    urls,
		Batches: int(c.batches.Load()),
		Warmed:  int(c.warmed.Load()),
		Failed:  int(c.failed.Load()),
		Purged:  int(c.purged.Load()),
	}
}
