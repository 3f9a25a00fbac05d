// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/movie-ingest/internal/search"
)

// EnvPrefix namespaces environment overrides, e.g. MOVIES_DB_DSN.
const EnvPrefix = "MOVIES"

// Scraper fetch modes.
const (
	ModeHeadless = "headless"
	ModeStatic   = "static"
	// ModeAuto fetches statically and promotes to headless when the page is not
	// usable or more than one page is requested.
	ModeAuto = "auto"
)

// Backend names shared by the db, storage and pubsub sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	QueueDepth      int           `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs how search results are fetched.
type ScraperConfig struct {
	Mode                 string            `mapstructure:"mode"`
	BaseURL              string            `mapstructure:"base_url"`
	UserAgent            string            `mapstructure:"user_agent"`
	Headers              map[string]string `mapstructure:"headers"`
	MaxPages             int               `mapstructure:"max_pages"`
	MaxParallel          int               `mapstructure:"max_parallel"`
	NavTimeout           time.Duration     `mapstructure:"nav_timeout"`
	IdleTimeout          time.Duration     `mapstructure:"idle_timeout"`
	LoadMoreWait         time.Duration     `mapstructure:"load_more_wait"`
	NavigationsPerSecond float64           `mapstructure:"navigations_per_second"`
	Headless             bool              `mapstructure:"headless"`
	RequestTimeout       time.Duration     `mapstructure:"request_timeout"`
	RespectRobots        bool              `mapstructure:"respect_robots"`
}

// DBConfig controls access to the movie table.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where run snapshots are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds the run notification target.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TracingConfig controls OpenTelemetry tracing. Spans are exported to Cloud Trace
// when ProjectID is set and only recorded in process otherwise.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.mode", ModeHeadless)
	v.SetDefault("scraper.base_url", search.DefaultBaseURL)
	v.SetDefault("scraper.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("scraper.headers", map[string]string{"Accept-Language": "en-US,en;q=0.9"})
	v.SetDefault("scraper.max_pages", search.DefaultMaxPages)
	v.SetDefault("scraper.max_parallel", 1)
	v.SetDefault("scraper.nav_timeout", "90s")
	v.SetDefault("scraper.idle_timeout", "15s")
	v.SetDefault("scraper.load_more_wait", "2s")
	v.SetDefault("scraper.navigations_per_second", 1.0)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.request_timeout", "30s")
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("db.driver", BackendPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "movies")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.backend", BackendNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "movie-scrapes")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Scraper.validate(); err != nil {
		return err
	}
	if err := c.DB.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.PubSub.validate(); err != nil {
		return err
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

func (s ScraperConfig) validate() error {
	switch s.Mode {
	case ModeHeadless, ModeStatic, ModeAuto:
	default:
		return fmt.Errorf("scraper.mode must be %q, %q or %q, got %q", ModeHeadless, ModeStatic, ModeAuto, s.Mode)
	}
	if s.MaxPages <= 0 {
		return fmt.Errorf("scraper.max_pages must be > 0")
	}
	if s.Mode != ModeStatic {
		if s.MaxParallel <= 0 {
			return fmt.Errorf("scraper.max_parallel must be > 0 in %s mode", s.Mode)
		}
		if s.NavTimeout <= 0 {
			return fmt.Errorf("scraper.nav_timeout must be > 0 in %s mode", s.Mode)
		}
	}
	if s.NavigationsPerSecond < 0 {
		return fmt.Errorf("scraper.navigations_per_second must be >= 0")
	}
	return nil
}

func (d DBConfig) validate() error {
	switch d.Driver {
	case BackendPostgres:
		if d.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", BackendPostgres, BackendMemory, d.Driver)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case "", BackendNone, BackendMemory:
	case BackendLocal:
		if s.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if s.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", s.Backend)
	}
	return nil
}

func (p PubSubConfig) validate() error {
	switch p.Backend {
	case "", BackendNone:
	case BackendMemory:
		if p.Topic == "" {
			return fmt.Errorf("pubsub.topic is required when notifications are enabled")
		}
	case BackendPubSub:
		if p.ProjectID == "" || p.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown pubsub.backend %q", p.Backend)
	}
	return nil
}

// NotificationsEnabled reports whether run notifications should be published.
func (p PubSubConfig) NotificationsEnabled() bool {
	return p.Backend == BackendMemory || p.Backend == BackendPubSub
}
