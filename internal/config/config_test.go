package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 {
		t.Errorf("CORS.AllowedOrigins = %v, want 1 entry", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Store.Driver != DriverBadger {
		t.Errorf("Store.Driver = %q, want badger", cfg.Store.Driver)
	}
	if cfg.Store.Badger.Path != "/var/lib/driveapipe" || !cfg.Store.Badger.SyncWrites {
		t.Errorf("Store.Badger = %+v", cfg.Store.Badger)
	}
	if cfg.Pipeline.StaleThresholdDays != 21 {
		t.Errorf("Pipeline.StaleThresholdDays = %d, want 21", cfg.Pipeline.StaleThresholdDays)
	}
	if cfg.Pipeline.SweepInterval != 30*time.Minute {
		t.Errorf("Pipeline.SweepInterval = %v, want 30m", cfg.Pipeline.SweepInterval)
	}
	if cfg.Pipeline.DefaultTemplate != "saas" {
		t.Errorf("Pipeline.DefaultTemplate = %q", cfg.Pipeline.DefaultTemplate)
	}
	if cfg.Idempotency.Driver != DriverRedis || cfg.Idempotency.TTL != 12*time.Hour {
		t.Errorf("Idempotency = %+v", cfg.Idempotency)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing = %+v", cfg.Observability.Tracing)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_malformed(t *testing.T) {
	_, err := Load("testdata/malformed.yaml")
	if err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_invalid(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	if err == nil {
		t.Fatal("Load() with invalid config should return error")
	}
	for _, want := range []string{"server.port", "store.driver", "stale_threshold_days", "idempotency.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_no_file_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Pipeline.StaleThresholdDays != 14 {
		t.Errorf("default StaleThresholdDays = %d, want 14", cfg.Pipeline.StaleThresholdDays)
	}
	if cfg.Pipeline.SweepInterval != time.Hour {
		t.Errorf("default SweepInterval = %v, want 1h", cfg.Pipeline.SweepInterval)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIVEAPIPE_SERVER_PORT", "3000")
	t.Setenv("DRIVEAPIPE_STORE_DRIVER", "mongo")
	t.Setenv("DRIVEAPIPE_STORE_MONGO_DATABASE", "crm")
	t.Setenv("DRIVEAPIPE_PIPELINE_STALE_THRESHOLD_DAYS", "7")
	t.Setenv("DRIVEAPIPE_PIPELINE_SWEEP_INTERVAL", "5m")
	t.Setenv("DRIVEAPIPE_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("DRIVEAPIPE_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverMongo || cfg.Store.Mongo.Database != "crm" {
		t.Errorf("Store = %+v, want mongo/crm", cfg.Store)
	}
	if cfg.Pipeline.StaleThresholdDays != 7 {
		t.Errorf("StaleThresholdDays = %d, want 7", cfg.Pipeline.StaleThresholdDays)
	}
	if cfg.Pipeline.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", cfg.Pipeline.SweepInterval)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v, want 2 entries", cfg.Server.CORS.AllowedOrigins)
	}
	// Untouched file values survive.
	if cfg.Pipeline.DefaultTemplate != "saas" {
		t.Errorf("DefaultTemplate = %q, want saas from file", cfg.Pipeline.DefaultTemplate)
	}
}

func TestEnvOverrides_bad_value(t *testing.T) {
	t.Setenv("DRIVEAPIPE_SERVER_PORT", "not-a-port")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() with unparsable env override should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"postgres dsn env", func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Store.Postgres.DSNEnv = ""
		}, "dsn_env"},
		{"badger path", func(c *Config) {
			c.Store.Driver = DriverBadger
			c.Store.Badger.Path = ""
		}, "store.badger.path"},
		{"mongo database", func(c *Config) {
			c.Store.Driver = DriverMongo
			c.Store.Mongo.Database = ""
		}, "store.mongo.database"},
		{"sweep interval", func(c *Config) { c.Pipeline.SweepInterval = 0 }, "sweep_interval"},
		{"idempotency ttl", func(c *Config) { c.Idempotency.TTL = 0 }, "idempotency.ttl"},
		{"log level", func(c *Config) { c.Observability.LogLevel = "loud" }, "log_level"},
		{"tracing exporter", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "zipkin"
		}, "tracing.exporter"},
		{"sampling rate", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.SamplingRate = 2
		}, "sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidate_badger_in_memory(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = DriverBadger
	cfg.Store.Badger.Path = ""
	cfg.Store.Badger.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_disabled_idempotency_skips_checks(t *testing.T) {
	cfg := Defaults()
	cfg.Idempotency.Enabled = false
	cfg.Idempotency.Driver = "bogus"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
