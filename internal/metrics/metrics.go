// Package metrics exposes Prometheus collectors for the warmer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	warmRequestsTotal          *prometheus.CounterVec
	warmRequestDurationSeconds *prometheus.HistogramVec
	warmCacheStatusTotal       *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	sitemapURLs                *prometheus.GaugeVec
	purgeRequestsTotal         *prometheus.CounterVec
	purgeRateLimitDelaySeconds prometheus.Histogram
	runlogFlushTotal           *prometheus.CounterVec
	runsTotal                  prometheus.Counter
	lastRunTimestamp           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		warmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_requests_total",
				Help: "Total number of warming requests, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		warmRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warmer_request_duration_seconds",
				Help:    "Histogram of warming request latencies including retries, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		warmCacheStatusTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_cache_status_total",
				Help: "Observed cache statuses, labeled by domain, cache tier, and status.",
			},
			[]string{"domain", "tier", "status"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_fetch_retries_total",
				Help: "Retries issued after transient fetch failures, labeled by domain.",
			},
			[]string{"domain"},
		)

		sitemapURLs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warmer_sitemap_urls",
				Help: "Number of URLs resolved from the sitemap index in the latest run.",
			},
			[]string{"domain"},
		)

		purgeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_purge_requests_total",
				Help: "CDN purge calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		purgeRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warmer_purge_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the purge API rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		runlogFlushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_runlog_flush_total",
				Help: "Run log deliveries, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		runsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warmer_runs_total",
				Help: "Total number of completed warming runs.",
			},
		)

		lastRunTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warmer_last_run_timestamp_seconds",
				Help: "Unix time at which the latest warming run finished.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmer_http_requests_total",
				Help: "Requests served by the status endpoint, labeled by method, route, and status code.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warmer_http_request_duration_seconds",
				Help:    "Histogram of status endpoint latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveWarm records a warming request outcome and its latency.
func ObserveWarm(domain, outcome string, duration time.Duration) {
	Init()
	warmRequestsTotal.WithLabelValues(domain, outcome).Inc()
	warmRequestDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheStatus counts a cache status seen on a warming response.
func ObserveCacheStatus(domain, tier, status string) {
	Init()
	warmCacheStatusTotal.WithLabelValues(domain, tier, normalizeStatus(status)).Inc()
}

// ObserveRetry counts a retry scheduled after a transient failure.
func ObserveRetry(domain string) {
	Init()
	fetchRetriesTotal.WithLabelValues(domain).Inc()
}

// SetSitemapURLs records how many URLs a domain's sitemap produced.
func SetSitemapURLs(domain string, count int) {
	Init()
	sitemapURLs.WithLabelValues(domain).Set(float64(count))
}

// ObservePurge counts a purge call outcome.
func ObservePurge(outcome string) {
	Init()
	purgeRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObservePurgeDelay records the duration of a purge rate limit wait.
func ObservePurgeDelay(duration time.Duration) {
	Init()
	purgeRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveFlush counts a run log delivery to one sink.
func ObserveFlush(sink, outcome string) {
	Init()
	runlogFlushTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveRun marks a completed run.
func ObserveRun(finished time.Time) {
	Init()
	runsTotal.Inc()
	lastRunTimestamp.Set(float64(finished.Unix()))
}

// ObserveHTTPRequest records one request served by the status endpoint.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// normalizeStatus keeps label cardinality bounded to known cache statuses.
func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "hit", "miss", "expired", "stale", "bypass", "revalidated", "updating", "dynamic", "none":
		return s
	case "", "n/a":
		return "absent"
	default:
		return "other"
	}
}
