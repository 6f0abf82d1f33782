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
	Server    ServerConfig    `mapstructure:"server"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// HeadlessConfig configures browser discovery and page loading.
type HeadlessConfig struct {
	ExecPath              string `mapstructure:"exec_path"`
	ManagedPath           string `mapstructure:"managed_path"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	CaptureTimeoutSeconds int    `mapstructure:"capture_timeout_seconds"`
	IdleSettleMs          int    `mapstructure:"idle_settle_ms"`
	IdleMaxInflight       int    `mapstructure:"idle_max_inflight"`
	UserAgent             string `mapstructure:"user_agent"`
}

// ThumbnailConfig holds request defaults and bounds.
type ThumbnailConfig struct {
	DefaultQuality int    `mapstructure:"default_quality"`
	DefaultFormat  string `mapstructure:"default_format"`
	MaxDimension   int    `mapstructure:"max_dimension"`
}

// ArchiveConfig toggles the render audit trail.
type ArchiveConfig struct {
	Enabled        bool               `mapstructure:"enabled"`
	Backend        string             `mapstructure:"backend"`
	Bucket         string             `mapstructure:"bucket"`
	Prefix         string             `mapstructure:"prefix"`
	CacheControl   string             `mapstructure:"cache_control"`
	Local          LocalArchiveConfig `mapstructure:"local"`
	TimeoutSeconds int                `mapstructure:"timeout_seconds"`
}

// LocalArchiveConfig configures the filesystem blob backend.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls the render log table in Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for render notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls OpenTelemetry tracing. Spans are exported to Cloud Trace only when
// ProjectID is set.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Archive backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBTHUMB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "WEBTHUMB_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.managed_path", "")
	v.SetDefault("headless.nav_timeout_seconds", 15)
	v.SetDefault("headless.capture_timeout_seconds", 10)
	v.SetDefault("headless.idle_settle_ms", 500)
	v.SetDefault("headless.idle_max_inflight", 2)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("thumbnail.default_quality", 80)
	v.SetDefault("thumbnail.default_format", "webp")
	v.SetDefault("thumbnail.max_dimension", 4096)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendMemory)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "thumbnails")
	v.SetDefault("archive.cache_control", "private, max-age=31536000, immutable")
	v.SetDefault("archive.local.base_dir", "data/thumbnails")
	v.SetDefault("archive.timeout_seconds", 10)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "render_log")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "webthumb")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0")
	}
	if c.Headless.CaptureTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.capture_timeout_seconds must be > 0")
	}
	if c.Headless.IdleSettleMs < 0 {
		return fmt.Errorf("headless.idle_settle_ms must be >= 0")
	}
	if c.Headless.IdleMaxInflight < 0 {
		return fmt.Errorf("headless.idle_max_inflight must be >= 0")
	}
	if c.Thumbnail.DefaultQuality < 1 || c.Thumbnail.DefaultQuality > 100 {
		return fmt.Errorf("thumbnail.default_quality must be in [1,100]")
	}
	if c.Thumbnail.MaxDimension <= 0 {
		return fmt.Errorf("thumbnail.max_dimension must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Archive.Local.BaseDir == "" {
				return fmt.Errorf("archive.local.base_dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend must be one of memory, local, gcs")
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0,1]")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must be <= database.max_conns")
	}
	return nil
}

// RequestTimeout is the end-to-end budget of one thumbnail request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// NavigationTimeout bounds a page load.
func (c HeadlessConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// CaptureTimeout bounds the screenshot call.
func (c HeadlessConfig) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutSeconds) * time.Second
}

// IdleSettle is the network quiet window.
func (c HeadlessConfig) IdleSettle() time.Duration {
	return time.Duration(c.IdleSettleMs) * time.Millisecond
}

// ArchiveTimeout bounds one archive write.
func (c ArchiveConfig) ArchiveTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
