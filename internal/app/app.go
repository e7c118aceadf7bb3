// Package app builds the long-lived services from configuration and runs
// warming passes with them.
package app

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-warmer/internal/config"
	"github.com/JakeFAU/edge-warmer/internal/fetcher"
	collyfetcher "github.com/JakeFAU/edge-warmer/internal/fetcher/colly"
	"github.com/JakeFAU/edge-warmer/internal/id/uuid"
	"github.com/JakeFAU/edge-warmer/internal/logging"
	"github.com/JakeFAU/edge-warmer/internal/metrics"
	"github.com/JakeFAU/edge-warmer/internal/orchestrator"
	"github.com/JakeFAU/edge-warmer/internal/policy/ratelimit"
	"github.com/JakeFAU/edge-warmer/internal/purge"
	"github.com/JakeFAU/edge-warmer/internal/runlog"
	"github.com/JakeFAU/edge-warmer/internal/runlog/sinks"
	"github.com/JakeFAU/edge-warmer/internal/server"
	"github.com/JakeFAU/edge-warmer/internal/sitemap"
	"github.com/JakeFAU/edge-warmer/internal/target"
	"github.com/JakeFAU/edge-warmer/internal/warmer"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	targets      target.Set
	resolver     *sitemap.Resolver
	orchestrator *orchestrator.Orchestrator
	sinks        []runlog.Sink
	ids          *uuid.Generator
	clock        runlog.Clock
	storage      *storage.Client
	state        *server.RunState
}

// Option customizes Build.
type Option func(*options)

type options struct {
	sleep      fetcher.Sleeper
	extraSinks []runlog.Sink
	clock      runlog.Clock
}

// WithSleeper replaces the pause used between retries and batches.
func WithSleeper(s fetcher.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithSink adds a run log sink next to the configured ones.
func WithSink(s runlog.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s) }
}

// WithClock replaces the clock stamping run start and finish.
func WithClock(c runlog.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		logger:  logger,
		targets: cfg.Targets(),
		ids:     uuid.New(),
		clock:   o.clock,
		state:   &server.RunState{},
	}

	// Sitemaps need their bodies under a larger limit. Warmed pages only
	// need headers, so their bodies are dropped with the response.
	sitemapFetcher := collyfetcher.New(collyfetcher.Config{
		Timeout:     cfg.Sitemap.Timeout,
		MaxBodySize: cfg.Sitemap.MaxBodySize,
		KeepBody:    true,
	})
	pageFetcher := collyfetcher.New(collyfetcher.Config{Timeout: cfg.Fetch.Timeout})
	a.resolver = sitemap.New(sitemapFetcher, sitemap.Config{
		IndexPath: cfg.Sitemap.IndexPath,
		Timeout:   cfg.Sitemap.Timeout,
	}, logging.Named(logger, "sitemap"))

	retrier := fetcher.NewRetrier(pageFetcher, fetcher.RetryConfig{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Backoff:     cfg.Fetch.RetryBackoff,
		Sleep:       o.sleep,
	}, logging.Named(logger, "fetcher"))

	w := warmer.New(retrier, a.buildPurger(), warmer.Config{
		BatchSize:            cfg.Warmer.BatchSize,
		InterBatchDelay:      cfg.Warmer.InterBatchDelay,
		EdgeCacheHeader:      cfg.Warmer.EdgeCacheHeader,
		SecondaryCacheHeader: cfg.Warmer.SecondaryCacheHeader,
		TraceHeader:          cfg.Warmer.TraceHeader,
		Sleep:                o.sleep,
	}, logging.Named(logger, "warmer"))

	a.orchestrator = orchestrator.New(a.resolver, w, logging.Named(logger, "orchestrator"))

	if err := a.buildSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.sinks = append(a.sinks, o.extraSinks...)
	if len(a.sinks) == 0 {
		logger.Warn("no run log sink configured; run logs will not be delivered")
	}

	logger.Info("application built",
		zap.Int("domains", len(a.targets)),
		zap.Bool("purge_enabled", cfg.Purge.Enabled()),
		zap.Int("sinks", len(a.sinks)),
	)
	return a, nil
}

func (a *App) buildPurger() *purge.Client {
	cfg := a.cfg.Purge
	if !cfg.Enabled() && (cfg.ZoneID != "" || cfg.APIToken != "") {
		a.logger.Warn("purge needs both zone id and api token; purging disabled")
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RPS,
		DefaultBurst: 1,
		ObserveDelay: metrics.ObservePurgeDelay,
	})
	return purge.New(purge.Config{
		APIBase:  cfg.APIBase,
		ZoneID:   cfg.ZoneID,
		APIToken: cfg.APIToken,
		Timeout:  cfg.Timeout,
	}, nil, limiter, logging.Named(a.logger, "purge"))
}

func (a *App) buildSinks(ctx context.Context) error {
	cfg := a.cfg.Sink
	if cfg.URL != "" {
		sheet, err := sinks.NewSheetSink(cfg.URL, &http.Client{Timeout: cfg.Timeout}, cfg.Timeout)
		if err != nil {
			return fmt.Errorf("sheet sink: %w", err)
		}
		a.sinks = append(a.sinks, sheet)
	}
	if cfg.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.storage = client
		archive, err := sinks.NewGCSSink(client, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return fmt.Errorf("gcs sink: %w", err)
		}
		a.sinks = append(a.sinks, archive)
	}
	if cfg.Log {
		a.sinks = append(a.sinks, sinks.NewLogSink(logging.Named(a.logger, "runlog.sink")))
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Targets returns the configured domains.
func (a *App) Targets() target.Set {
	return a.targets
}

// Resolver returns the sitemap resolver.
func (a *App) Resolver() orchestrator.Resolver {
	return a.resolver
}

// State returns the run progress shared with the status server.
func (a *App) State() *server.RunState {
	return a.state
}

// NewRun starts a fresh run log with a new id.
func (a *App) NewRun() *runlog.Logger {
	return runlog.New(runlog.Config{
		RunID:       a.ids.NewRunID(),
		SinkTimeout: a.cfg.Sink.Timeout,
		Clock:       a.clock,
		Logger:      logging.Named(a.logger, "runlog"),
	}, a.sinks...)
}

// RunOnce performs one full warming pass over every domain.
func (a *App) RunOnce(ctx context.Context) orchestrator.Summary {
	a.state.Started()
	summary := a.orchestrator.Run(ctx, a.targets.Sorted(), a.NewRun())
	a.state.Finished(summary)
	return summary
}

// Close releases external clients.
func (a *App) Close() {
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
