// Package config loads and validates warmer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/edge-warmer/internal/target"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig           `mapstructure:"logging"`
	Sink     SinkConfig              `mapstructure:"sink"`
	Purge    PurgeConfig             `mapstructure:"purge"`
	Warmer   WarmerConfig            `mapstructure:"warmer"`
	Fetch    FetchConfig             `mapstructure:"fetch"`
	Sitemap  SitemapConfig           `mapstructure:"sitemap"`
	Schedule ScheduleConfig          `mapstructure:"schedule"`
	Domains  map[string]DomainConfig `mapstructure:"domains"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SinkConfig points the run log at its external destinations.
type SinkConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	GCSBucket string        `mapstructure:"gcs_bucket"`
	GCSPrefix string        `mapstructure:"gcs_prefix"`
	Log       bool          `mapstructure:"log"`
}

// PurgeConfig holds CDN credentials. Purging is disabled unless both the zone
// id and the API token are set.
type PurgeConfig struct {
	APIBase  string        `mapstructure:"api_base"`
	ZoneID   string        `mapstructure:"zone_id"`
	APIToken string        `mapstructure:"api_token"`
	RPS      float64       `mapstructure:"rps"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether both credentials are present.
func (p PurgeConfig) Enabled() bool {
	return p.ZoneID != "" && p.APIToken != ""
}

// WarmerConfig controls batching and cache header names.
type WarmerConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	InterBatchDelay      time.Duration `mapstructure:"inter_batch_delay"`
	EdgeCacheHeader      string        `mapstructure:"edge_cache_header"`
	SecondaryCacheHeader string        `mapstructure:"secondary_cache_header"`
	TraceHeader          string        `mapstructure:"trace_header"`
}

// FetchConfig configures the per-URL HTTP client and its retry behavior.
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SitemapConfig locates the sitemap index relative to each base URL.
// MaxBodySize bounds one sitemap document in bytes. A protocol-compliant
// child of 50,000 URLs can approach 50 MiB uncompressed.
type SitemapConfig struct {
	IndexPath   string        `mapstructure:"index_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBodySize int           `mapstructure:"max_body_size"`
}

// ScheduleConfig drives the repeating schedule command.
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	ListenAddr string        `mapstructure:"listen_addr"`
}

// DomainConfig is the file/env form of a target.Domain.
type DomainConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Proxy     string `mapstructure:"proxy"`
	UserAgent string `mapstructure:"user_agent"`
	Label     string `mapstructure:"label"`
}

const envPrefix = "WARMER"

// Load builds a Config from an optional .env file, an optional config file,
// and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDomainEnv(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	// Existing environment variables win over the file.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("sink.url", "")
	v.SetDefault("sink.timeout", "20s")
	v.SetDefault("sink.gcs_bucket", "")
	v.SetDefault("sink.gcs_prefix", "runs")
	v.SetDefault("sink.log", false)
	v.SetDefault("purge.api_base", "https://api.cloudflare.com/client/v4")
	v.SetDefault("purge.zone_id", "")
	v.SetDefault("purge.api_token", "")
	v.SetDefault("purge.rps", 4)
	v.SetDefault("purge.timeout", "10s")
	v.SetDefault("warmer.batch_size", 1)
	v.SetDefault("warmer.inter_batch_delay", "2s")
	v.SetDefault("warmer.edge_cache_header", "Cf-Cache-Status")
	v.SetDefault("warmer.secondary_cache_header", "X-Litespeed-Cache")
	v.SetDefault("warmer.trace_header", "Cf-Ray")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.retry_backoff", "2s")
	v.SetDefault("sitemap.index_path", "/sitemap_index.xml")
	v.SetDefault("sitemap.timeout", "30s")
	v.SetDefault("sitemap.max_body_size", 64*1024*1024)
	v.SetDefault("schedule.interval", "1h")
	v.SetDefault("schedule.listen_addr", ":9090")
}

// applyDomainEnv lets WARMER_DOMAINS_<KEY>_PROXY and friends override nested
// map entries, which Unmarshal does not see on its own.
func applyDomainEnv(v *viper.Viper, cfg *Config) {
	for key, d := range cfg.Domains {
		prefix := "domains." + key + "."
		if s := v.GetString(prefix + "proxy"); s != "" {
			d.Proxy = s
		}
		if s := v.GetString(prefix + "user_agent"); s != "" {
			d.UserAgent = s
		}
		if s := v.GetString(prefix + "base_url"); s != "" {
			d.BaseURL = s
		}
		cfg.Domains[key] = d
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("domains must include at least one domain")
	}
	for key, d := range c.Domains {
		if strings.TrimSpace(d.BaseURL) == "" {
			return fmt.Errorf("domains.%s.base_url must be set", key)
		}
		if _, err := parseAbsolute(d.BaseURL); err != nil {
			return fmt.Errorf("domains.%s.base_url: %w", key, err)
		}
		if strings.TrimSpace(d.UserAgent) == "" {
			return fmt.Errorf("domains.%s.user_agent must be set", key)
		}
		if d.Proxy != "" {
			if _, err := parseAbsolute(d.Proxy); err != nil {
				return fmt.Errorf("domains.%s.proxy: %w", key, err)
			}
		}
	}
	if c.Warmer.BatchSize <= 0 {
		return fmt.Errorf("warmer.batch_size must be > 0")
	}
	if c.Warmer.InterBatchDelay < 0 {
		return fmt.Errorf("warmer.inter_batch_delay must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.RetryBackoff < 0 {
		return fmt.Errorf("fetch.retry_backoff must be >= 0")
	}
	if c.Sitemap.Timeout <= 0 {
		return fmt.Errorf("sitemap.timeout must be > 0")
	}
	if c.Sitemap.MaxBodySize <= 0 {
		return fmt.Errorf("sitemap.max_body_size must be > 0")
	}
	if c.Sink.Timeout <= 0 {
		return fmt.Errorf("sink.timeout must be > 0")
	}
	if c.Purge.Enabled() && c.Purge.Timeout <= 0 {
		return fmt.Errorf("purge.timeout must be > 0 when purge is enabled")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	return nil
}

// Targets converts the configured domains into immutable target records.
// A domain without a label is attributed to its upper-cased key.
func (c Config) Targets() target.Set {
	out := make(target.Set, len(c.Domains))
	for key, d := range c.Domains {
		key = strings.ToLower(key)
		label := d.Label
		if label == "" {
			label = strings.ToUpper(key)
		}
		out[key] = target.Domain{
			Key:     key,
			BaseURL: strings.TrimRight(d.BaseURL, "/"),
			Identity: target.Identity{
				Domain:    key,
				Label:     label,
				Proxy:     d.Proxy,
				UserAgent: d.UserAgent,
			},
		}
	}
	return out
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", raw)
	}
	return u, nil
}
