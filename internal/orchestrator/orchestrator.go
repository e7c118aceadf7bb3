// Package orchestrator runs the resolve-then-warm pipeline for every domain
// concurrently and always closes out the run log exactly once.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/metrics"
	"github.com/JakeFAU/edge-warmer/internal/runlog"
	"github.com/JakeFAU/edge-warmer/internal/target"
	"github.com/JakeFAU/edge-warmer/internal/warmer"
)

// Resolver produces the URL set of a domain. It never fails; an unreachable
// sitemap yields an empty set.
type Resolver interface {
	Resolve(ctx context.Context, domain target.Domain) []string
}

// Warmer requests a domain's URLs and reports per-URL rows.
type Warmer interface {
	Warm(ctx context.Context, domain target.Domain, urls []string, rows warmer.RowLogger) warmer.Stats
	// Drain waits for background work started by Warm, such as purges.
	Drain()
}

// RunLog is the per-run audit trail.
type RunLog interface {
	Log(fields runlog.Fields)
	RunID() string
	StartedAt() time.Time
	Finalize() time.Time
	Flush(ctx context.Context)
}

// DomainSummary reports one domain's pipeline.
type DomainSummary struct {
	Key       string
	URLsFound int
	Stats     warmer.Stats
	// Panic holds the recovered value when the pipeline crashed.
	Panic string
}

// Summary reports a whole run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Domains    []DomainSummary
}

// Totals adds up the per-domain counts.
func (s Summary) Totals() (found, warmed, failed, purged int) {
	for _, d := range s.Domains {
		found += d.URLsFound
		warmed += d.Stats.Warmed
		failed += d.Stats.Failed
		purged += d.Stats.Purged
	}
	return found, warmed, failed, purged
}

// Orchestrator wires the resolver and warmer together.
type Orchestrator struct {
	resolver Resolver
	warmer   Warmer
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(resolver Resolver, w Warmer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{resolver: resolver, warmer: w, logger: logger}
}

// Run executes every domain in parallel, drains the warmer's background
// purges, then finalizes and flushes run. The flush happens once whatever the
// domains do, and it is not cut short if ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, domains []target.Domain, run RunLog) (summary Summary) {
	summary = Summary{
		RunID:     run.RunID(),
		StartedAt: run.StartedAt(),
		Domains:   make([]DomainSummary, len(domains)),
	}
	o.logger.Info("run started", zap.String("run_id", summary.RunID), zap.Int("domains", len(domains)))

	defer func() {
		o.warmer.Drain()
		summary.FinishedAt = run.Finalize()
		run.Flush(context.WithoutCancel(ctx))
		metrics.ObserveRun(summary.FinishedAt)

		found, warmed, failed, purged := summary.Totals()
		o.logger.Info("run finished",
			zap.String("run_id", summary.RunID),
			zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
			zap.Int("urls_found", found),
			zap.Int("warmed", warmed),
			zap.Int("failed", failed),
			zap.Int("purged", purged),
		)
	}()

	var wg sync.WaitGroup
	for i, domain := range domains {
		wg.Add(1)
		go func(i int, domain target.Domain) {
			defer wg.Done()
			summary.Domains[i] = o.runDomain(ctx, domain, run)
		}(i, domain)
	}
	wg.Wait()
	return summary
}

func (o *Orchestrator) runDomain(ctx context.Context, domain target.Domain, run RunLog) (result DomainSummary) {
	result.Key = domain.Key
	logger := o.logger.With(zap.String("domain", domain.Key))

	defer func() {
		if r := recover(); r != nil {
			result.Panic = fmt.Sprint(r)
			logger.Error("domain pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			run.Log(runlog.Fields{
				Country: domain.Identity.Label,
				URL:     domain.BaseURL,
				Error:   true,
				Message: fmt.Sprintf("pipeline panic: %v", r),
			})
		}
	}()

	urls := o.resolver.Resolve(ctx, domain)
	result.URLsFound = len(urls)
	metrics.SetSitemapURLs(domain.Key, len(urls))
	run.Log(runlog.Fields{
		Country: domain.Identity.Label,
		URL:     domain.BaseURL,
		Message: fmt.Sprintf("Found %d URLs", len(urls)),
	})
	logger.Info("domain pipeline resolved", zap.Int("urls", len(urls)))

	if len(urls) == 0 {
		return result
	}
	result.Stats = o.warmer.Warm(ctx, domain, urls, run)
	return result
}
