// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Browser BrowserConfig `mapstructure:"browser"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScanConfig governs full-scan defaults; starter scans use a fixed shape.
type ScanConfig struct {
	MaxPagesDefault    int    `mapstructure:"max_pages_default"`
	MaxLinksPerPage    int    `mapstructure:"max_links_per_page"`
	MaxDepthDefault    int    `mapstructure:"max_depth_default"`
	MaxConcurrency     int    `mapstructure:"max_concurrency"`
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds"`
	OverallTimeoutMin  int    `mapstructure:"overall_timeout_minutes"`
	UserAgent          string `mapstructure:"user_agent"`
}

// BrowserConfig configures the shared headless Chrome process.
type BrowserConfig struct {
	NavTimeoutSec  int `mapstructure:"nav_timeout_seconds"`
	ViewportWidth  int `mapstructure:"viewport_width"`
	ViewportHeight int `mapstructure:"viewport_height"`
}

// AuditConfig locates the in-page audit script.
type AuditConfig struct {
	CDNURL string `mapstructure:"cdn_url"`
}

// StorageConfig sets bucket and key layout for blob persistence.
type StorageConfig struct {
	GCSBucket     string `mapstructure:"gcs_bucket"`
	TeaserPrefix  string `mapstructure:"teaser_prefix"`
	SignedURLMins int    `mapstructure:"signed_url_minutes"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for notification publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QuotaConfig bounds admission for the two scan tiers.
type QuotaConfig struct {
	MaxConcurrentStarter   int    `mapstructure:"max_concurrent_starter"`
	MaxConcurrentFull      int    `mapstructure:"max_concurrent_full"`
	StarterPerIPPerHour    int    `mapstructure:"starter_per_ip_per_hour"`
	StarterUnverifiedPerIP int    `mapstructure:"starter_unverified_per_ip_per_hour"`
	StarterPerEmailPerDay  int    `mapstructure:"starter_per_email_per_day"`
	FullPerIPPerHour       int    `mapstructure:"full_per_ip_per_hour"`
	FullPerEmailPerDay     int    `mapstructure:"full_per_email_per_day"`
	BypassEmail            string `mapstructure:"bypass_email"`
}

// WorkerConfig tunes the async job worker.
type WorkerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	BackoffUnitSec int `mapstructure:"backoff_unit_seconds"`
	QueueDepth     int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEGAUGE")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scan.max_pages_default", 25)
	v.SetDefault("scan.max_links_per_page", 100)
	v.SetDefault("scan.max_depth_default", 2)
	v.SetDefault("scan.max_concurrency", 5)
	v.SetDefault("scan.page_timeout_seconds", 60)
	v.SetDefault("scan.overall_timeout_minutes", 30)
	v.SetDefault("scan.user_agent", "pagegauge-bot/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("audit.cdn_url", "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.10.2/axe.min.js")
	v.SetDefault("storage.teaser_prefix", "teasers")
	v.SetDefault("storage.signed_url_minutes", 10080)
	v.SetDefault("quota.max_concurrent_starter", 3)
	v.SetDefault("quota.max_concurrent_full", 2)
	v.SetDefault("quota.starter_per_ip_per_hour", 3)
	v.SetDefault("quota.starter_unverified_per_ip_per_hour", 1)
	v.SetDefault("quota.starter_per_email_per_day", 5)
	v.SetDefault("quota.full_per_ip_per_hour", 10)
	v.SetDefault("quota.full_per_email_per_day", 20)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.backoff_unit_seconds", 60)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scan.MaxConcurrency < 1 {
		return fmt.Errorf("scan.max_concurrency must be >= 1")
	}
	if c.Scan.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("scan.page_timeout_seconds must be > 0")
	}
	if c.Quota.MaxConcurrentStarter <= 0 || c.Quota.MaxConcurrentFull <= 0 {
		return fmt.Errorf("quota concurrency limits must be > 0")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0")
	}
	return nil
}

// PageTimeout returns the per-page deadline as a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scan.PageTimeoutSeconds) * time.Second
}

// OverallTimeout returns the whole-scan deadline as a duration.
func (c Config) OverallTimeout() time.Duration {
	return time.Duration(c.Scan.OverallTimeoutMin) * time.Minute
}

// SignedURLTTL returns how long presigned teaser URLs stay valid.
func (c Config) SignedURLTTL() time.Duration {
	return time.Duration(c.Storage.SignedURLMins) * time.Minute
}

// RetryBackoffUnit returns the base unit for worker retry backoff.
func (c Config) RetryBackoffUnit() time.Duration {
	return time.Duration(c.Worker.BackoffUnitSec) * time.Second
}
