// Package config loads and validates crawlpilot configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crawlops/crawlpilot/internal/scheduler"
	pkgconfig "github.com/crawlops/crawlpilot/pkg/config"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Remote    Remote            `mapstructure:"remote"`
	Crawl     Crawl             `mapstructure:"crawl"`
	Server    Server            `mapstructure:"server"`
	Auth      Auth              `mapstructure:"auth"`
	Storage   Storage           `mapstructure:"storage"`
	PubSub    PubSub            `mapstructure:"pubsub"`
	Journal   Journal           `mapstructure:"journal"`
	Harvest   Harvest           `mapstructure:"harvest"`
	Logging   Logging           `mapstructure:"logging"`
	Schedules []scheduler.Entry `mapstructure:"schedules"`
}

// Remote locates the crawl service every job runs on.
type Remote struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	APIKey         string `mapstructure:"api_key"`
}

// Timeout converts the configured request budget into a duration.
func (r Remote) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Crawl governs crawl execution defaults.
type Crawl struct {
	ConfID              string `mapstructure:"conf_id"`
	Rounds              int    `mapstructure:"rounds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
}

// PollInterval converts the configured poll cadence into a duration.
func (c Crawl) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Server controls control-plane HTTP behavior.
type Server struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// RequestTimeout converts the handler deadline into a duration.
func (s Server) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Auth defines API authentication toggles.
type Auth struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Storage selects where crawl reports are archived.
type Storage struct {
	// Backend is one of "", local, gcs, memory. Empty disables archiving.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSub holds metadata for crawl completion notifications. Both fields
// must be set for publishing to be enabled.
type PubSub struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications are configured.
func (p PubSub) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Journal selects the job-run record store.
type Journal struct {
	// Backend is one of "", memory, postgres. Empty disables the journal.
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// Harvest governs the local seed harvester.
type Harvest struct {
	UserAgent            string  `mapstructure:"user_agent"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	Concurrency          int     `mapstructure:"concurrency"`
	DomainQPS            float64 `mapstructure:"domain_qps"`
	RespectRobots        bool    `mapstructure:"respect_robots"`
	SameHostOnly         bool    `mapstructure:"same_host_only"`
	MaxLinks             int     `mapstructure:"max_links"`
	RenderEnabled        bool    `mapstructure:"render_enabled"`
	RenderMaxParallel    int     `mapstructure:"render_max_parallel"`
	RenderTimeoutSeconds int     `mapstructure:"render_timeout_seconds"`
}

// Logging toggles zap development features.
type Logging struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load builds a Config from disk and environment. An empty path searches
// the standard locations and falls back to defaults when no file exists;
// a non-empty path must name a readable config file.
func Load(path string) (Config, error) {
	v := pkgconfig.NewViper()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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
	v.SetDefault("remote.base_url", "http://localhost:8081")
	v.SetDefault("remote.timeout_seconds", 30)
	v.SetDefault("remote.user_agent", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("crawl.conf_id", "default")
	v.SetDefault("crawl.rounds", 1)
	v.SetDefault("crawl.poll_interval_seconds", 5)
	v.SetDefault("crawl.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/reports")
	v.SetDefault("journal.backend", "memory")
	v.SetDefault("journal.max_conns", 4)
	v.SetDefault("harvest.user_agent", "crawlpilot-harvester/1.0 (+https://github.com/crawlops/crawlpilot)")
	v.SetDefault("harvest.timeout_seconds", 20)
	v.SetDefault("harvest.concurrency", 2)
	v.SetDefault("harvest.domain_qps", 1.0)
	v.SetDefault("harvest.respect_robots", true)
	v.SetDefault("harvest.same_host_only", true)
	v.SetDefault("harvest.max_links", 200)
	v.SetDefault("harvest.render_enabled", false)
	v.SetDefault("harvest.render_max_parallel", 1)
	v.SetDefault("harvest.render_timeout_seconds", 25)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must be set")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be > 0")
	}
	if c.Crawl.Rounds <= 0 {
		return fmt.Errorf("crawl.rounds must be > 0")
	}
	if c.Crawl.PollIntervalSeconds <= 0 {
		return fmt.Errorf("crawl.poll_interval_seconds must be > 0")
	}
	if c.Crawl.MaxConcurrent < 0 {
		return fmt.Errorf("crawl.max_concurrent must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	switch c.Journal.Backend {
	case "", "memory":
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("journal.backend %q is not one of memory, postgres", c.Journal.Backend)
	}
	if c.Harvest.DomainQPS < 0 {
		return fmt.Errorf("harvest.domain_qps must be >= 0")
	}
	for i, entry := range c.Schedules {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	return nil
}

// LogLevel normalizes the configured level for the logger constructor.
func (c Config) LogLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Logging.Level))
}
