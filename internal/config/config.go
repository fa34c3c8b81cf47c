// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DRIVEAPIPE_SERVER_PORT.
const EnvPrefix = "DRIVEAPIPE_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Store         StoreConfig         `yaml:"store" envPrefix:"STORE_"`
	Pipeline      PipelineConfig      `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency" envPrefix:"IDEMPOTENCY_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CORS            CORSConfig    `yaml:"cors" envPrefix:"CORS_"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// StoreConfig selects and configures the pipeline store.
type StoreConfig struct {
	Driver   string         `yaml:"driver" env:"DRIVER"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	Badger   BadgerConfig   `yaml:"badger" envPrefix:"BADGER_"`
	Mongo    MongoConfig    `yaml:"mongo" envPrefix:"MONGO_"`
}

// PostgresConfig describes the postgres connection pool. The DSN itself is
// read from the environment variable named by DSNEnv.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env" env:"DSN_ENV"`
	MaxConns        int32         `yaml:"max_conns" env:"MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate" env:"MIGRATE"`
}

// BadgerConfig describes the embedded badger store.
type BadgerConfig struct {
	Path       string `yaml:"path" env:"PATH"`
	InMemory   bool   `yaml:"in_memory" env:"IN_MEMORY"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// MongoConfig describes the mongo store. The URI is read from the environment
// variable named by URIEnv.
type MongoConfig struct {
	URIEnv         string        `yaml:"uri_env" env:"URI_ENV"`
	Database       string        `yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PipelineConfig describes the pipeline engine and its templates.
type PipelineConfig struct {
	StaleThresholdDays int           `yaml:"stale_threshold_days" env:"STALE_THRESHOLD_DAYS"`
	SweepEnabled       bool          `yaml:"sweep_enabled" env:"SWEEP_ENABLED"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	TemplatesDir       string        `yaml:"templates_dir" env:"TEMPLATES_DIR"`
	DefaultTemplate    string        `yaml:"default_template" env:"DEFAULT_TEMPLATE"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Driver  string        `yaml:"driver" env:"DRIVER"`
	AddrEnv string        `yaml:"addr_env" env:"ADDR_ENV"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" env:"LOG_LEVEL"`
	Tracing  TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics  MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	Exporter     string  `yaml:"exporter" env:"EXPORTER"`
	Endpoint     string  `yaml:"endpoint" env:"ENDPOINT"`
	SamplingRate float64 `yaml:"sampling_rate" env:"SAMPLING_RATE"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Actor-Id", "X-Actor-Name",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Postgres: PostgresConfig{
				DSNEnv:          "DATABASE_URL",
				MaxConns:        10,
				MinConns:        1,
				ConnMaxLifetime: 30 * time.Minute,
				Migrate:         true,
			},
			Badger: BadgerConfig{
				Path: "data/badger",
			},
			Mongo: MongoConfig{
				URIEnv:         "MONGODB_URI",
				Database:       "driveapipe",
				ConnectTimeout: 10 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			StaleThresholdDays: 14,
			SweepEnabled:       true,
			SweepInterval:      time.Hour,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Driver:  DriverMemory,
			AddrEnv: "REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file over the defaults, applies DRIVEAPIPE_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.Postgres.DSNEnv == "" {
			errs = append(errs, "store.postgres.dsn_env is required")
		}
	case DriverBadger:
		if !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
			errs = append(errs, "store.badger.path is required unless in_memory is set")
		}
	case DriverMongo:
		if c.Store.Mongo.URIEnv == "" {
			errs = append(errs, "store.mongo.uri_env is required")
		}
		if c.Store.Mongo.Database == "" {
			errs = append(errs, "store.mongo.database is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, badger, mongo", c.Store.Driver))
	}

	if c.Pipeline.StaleThresholdDays < 1 {
		errs = append(errs, "pipeline.stale_threshold_days must be at least 1")
	}
	if c.Pipeline.SweepEnabled && c.Pipeline.SweepInterval <= 0 {
		errs = append(errs, "pipeline.sweep_interval must be positive when the sweep is enabled")
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case DriverMemory:
		case DriverRedis:
			if c.Idempotency.AddrEnv == "" {
				errs = append(errs, "idempotency.addr_env is required for the redis driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not one of memory, redis", c.Idempotency.Driver))
		}
		if c.Idempotency.TTL <= 0 {
			errs = append(errs, "idempotency.ttl must be positive")
		}
	}

	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("observability.log_level %q is invalid", c.Observability.LogLevel))
	}
	if t := c.Observability.Tracing; t.Enabled {
		if t.Exporter != "otlp" && t.Exporter != "stdout" {
			errs = append(errs, fmt.Sprintf("observability.tracing.exporter %q is not one of otlp, stdout", t.Exporter))
		}
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			errs = append(errs, "observability.tracing.sampling_rate must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides binds DRIVEAPIPE_* environment variables onto cfg. Unset
// variables leave the file or default value in place.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}
