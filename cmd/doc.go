// Package cmd defines the edgewarmer command line.
//
// Architecture overview:
//   - Discovery: internal/sitemap fetches {base}/sitemap_index.xml for each configured domain through the domain's
//     own proxy and user agent, then every child sitemap, and flattens the page locations. Any discovery failure
//     degrades to an empty URL set.
//   - Warming: internal/warmer splits the URL set into ordered batches. Batches run one after another with a fixed
//     pause between them; the URLs of a batch are requested concurrently through the Colly-based fetcher wrapped in a
//     fixed-backoff retrier that only retries aborted, reset, or timed-out connections.
//   - Cache policy: the edge and secondary cache status headers and the trace id are read from each response. A
//     secondary status other than HIT triggers a single-URL purge at the CDN (internal/purge), paced by a token
//     bucket.
//   - Run log: every URL produces one row in internal/runlog. When all domains are done the run is finalized (one
//     finish time stamped on every row) and flushed once to the configured sinks: the spreadsheet webhook, an
//     optional GCS archive, and an optional zap log sink.
//   - Configuration & plumbing: Viper populates config from an optional YAML file, a .env file, and WARMER_* env
//     vars; zap provides structured logging; Prometheus metrics are exported on /metrics in schedule mode.
//
// Commands:
//   - warm: one end-to-end run, then exit.
//   - schedule: run every schedule.interval until SIGINT/SIGTERM while serving /healthz, /readyz, and /metrics.
//     A signal stops further runs; the run in flight still finishes and flushes.
//   - sitemap <domain>: print the resolved URL set of one domain.
package cmd
