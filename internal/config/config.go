// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

// Archive backends.
const (
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Robots  RobotsConfig  `mapstructure:"robots"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the crawl engine and page fetcher.
type CrawlerConfig struct {
	Defaults           PolicyDefaults `mapstructure:"defaults"`
	UserAgent          string         `mapstructure:"user_agent"`
	IdleBackoff        time.Duration  `mapstructure:"idle_backoff"`
	RateLimitPerDomain float64        `mapstructure:"rate_limit_per_domain"`
	RateLimitBurst     int            `mapstructure:"rate_limit_burst"`
}

// PolicyDefaults fill the fields a crawl request leaves out.
type PolicyDefaults struct {
	MaxDepth            int  `mapstructure:"max_depth"`
	MaxWorkers          int  `mapstructure:"max_workers"`
	StayOnDomain        bool `mapstructure:"stay_on_domain"`
	RespectRobots       bool `mapstructure:"respect_robots"`
	ConnectionTimeoutMs int  `mapstructure:"connection_timeout_ms"`
}

// RobotsConfig bounds robots.txt downloads.
type RobotsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig selects where finished exports are written. GCSCacheControl
// is stored on every archived GCS object.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Backend         string `mapstructure:"backend"`
	Prefix          string `mapstructure:"prefix"`
	BaseDir         string `mapstructure:"base_dir"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	GCSCacheControl string `mapstructure:"gcs_cache_control"`
}

// NotifyConfig selects where completion events are published.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment. With an empty path it looks
// for config.{yaml,json,toml} in the working directory, /etc/site-spider and
// $HOME/.site-spider, and runs on defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/site-spider/")
		v.AddConfigPath("$HOME/.site-spider")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.defaults.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.defaults.max_workers", crawler.DefaultMaxWorkers)
	v.SetDefault("crawler.defaults.stay_on_domain", true)
	v.SetDefault("crawler.defaults.respect_robots", true)
	v.SetDefault("crawler.defaults.connection_timeout_ms", crawler.DefaultConnectionTimeoutMs)
	v.SetDefault("crawler.user_agent", "site-spider/0.1")
	v.SetDefault("crawler.idle_backoff", "100ms")
	v.SetDefault("crawler.rate_limit_per_domain", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("robots.timeout", "10s")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", ArchiveMemory)
	v.SetDefault("archive.prefix", "sitemaps")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.gcs_cache_control", "no-cache")
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "sitemap-completed")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	d := c.Crawler.Defaults
	if d.MaxDepth < 1 {
		return fmt.Errorf("crawler.defaults.max_depth must be >= 1")
	}
	if d.MaxWorkers < 1 {
		return fmt.Errorf("crawler.defaults.max_workers must be >= 1")
	}
	if d.ConnectionTimeoutMs < 1000 {
		return fmt.Errorf("crawler.defaults.connection_timeout_ms must be >= 1000")
	}
	if c.Crawler.RateLimitPerDomain < 0 {
		return fmt.Errorf("crawler.rate_limit_per_domain must be >= 0")
	}
	if c.Robots.Timeout <= 0 {
		return fmt.Errorf("robots.timeout must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case ArchiveMemory:
		case ArchiveLocal:
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local backend")
			}
		case ArchiveGCS:
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
		}
	}
	switch c.Notify.Backend {
	case NotifyNone, "":
	case NotifyMemory:
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic must be set")
		}
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

// Policy returns the default crawl policy for startURL.
func (c Config) Policy(startURL string) crawler.Policy {
	d := c.Crawler.Defaults
	return crawler.Policy{
		StartURL:            startURL,
		MaxDepth:            d.MaxDepth,
		MaxWorkers:          d.MaxWorkers,
		StayOnDomain:        d.StayOnDomain,
		RespectRobots:       d.RespectRobots,
		ConnectionTimeoutMs: d.ConnectionTimeoutMs,
	}
}
