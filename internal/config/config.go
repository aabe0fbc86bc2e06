// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Sync          SyncConfig          `yaml:"sync"`
	Notifier      NotifierConfig      `yaml:"notifier"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the operational HTTP endpoint settings (metrics,
// health). The service exposes no business API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig describes case persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefinitionsConfig describes where workflow templates are loaded from and
// which source the engine resolves ordered stages through: the file-backed
// registry ("files") or the stages table ("postgres").
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	Source      string   `yaml:"source"`
}

// SyncConfig describes the background workflow re-synchronization pass that
// reconciles case ledgers after workflow edits.
type SyncConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	EmergencyMode   bool          `yaml:"emergency_mode"`
	DetailedLogging bool          `yaml:"detailed_logging"`

	// Tenants lists the tenant IDs the background pass covers.
	Tenants []string `yaml:"tenants"`
}

// NotifierConfig describes the stage-completed notification queue.
type NotifierConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "postgres",
			DSNEnv:          "CASEFLOW_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
			Source:      "files",
		},
		Sync: SyncConfig{
			Enabled:      true,
			Interval:     5 * time.Minute,
			MaxBatchSize: 100,
		},
		Notifier: NotifierConfig{
			BufferSize: 256,
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

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

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
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (postgres, memory)", c.Store.Driver))
	}
	switch c.Definitions.Source {
	case "files", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("definitions.source %q is not supported (files, postgres)", c.Definitions.Source))
	}
	if c.Definitions.Source == "postgres" && c.Store.Driver != "postgres" {
		errs = append(errs, "definitions.source postgres requires store.driver postgres")
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		errs = append(errs, "sync.interval must be positive when sync is enabled")
	}
	if c.Sync.MaxBatchSize < 0 {
		errs = append(errs, "sync.max_batch_size must not be negative")
	}
	if c.Notifier.BufferSize < 0 {
		errs = append(errs, "notifier.buffer_size must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CASEFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CASEFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CASEFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CASEFLOW_SYNC_ENABLED"); v != "" {
		cfg.Sync.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CASEFLOW_SYNC_EMERGENCY_MODE"); v != "" {
		cfg.Sync.EmergencyMode = v == "true" || v == "1"
	}
}
