// Package config provides configuration loading and validation for expiryd.
// Supports YAML files with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "EXPIRYD_CONFIG"

// Metadata backends.
const (
	BackendOxia   = "oxia"
	BackendPebble = "pebble"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for an expiryd process.
type Config struct {
	Sweep         SweepConfig         `yaml:"sweep"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type SweepConfig struct {
	LookbackHours int   `yaml:"lookbackHours" env:"EXPIRYD_LOOKBACK_HOURS"`
	PageSize      int   `yaml:"pageSize" env:"EXPIRYD_PAGE_SIZE"`
	IntervalMs    int64 `yaml:"intervalMs" env:"EXPIRYD_INTERVAL_MS"`
	RunTimeoutMs  int64 `yaml:"runTimeoutMs" env:"EXPIRYD_RUN_TIMEOUT_MS"`
}

// Interval returns IntervalMs as a duration.
func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// RunTimeout returns RunTimeoutMs as a duration.
func (s SweepConfig) RunTimeout() time.Duration {
	return time.Duration(s.RunTimeoutMs) * time.Millisecond
}

type MetadataConfig struct {
	Backend          string `yaml:"backend" env:"EXPIRYD_METADATA_BACKEND"`
	OxiaEndpoint     string `yaml:"oxiaEndpoint" env:"EXPIRYD_OXIA_ENDPOINT"`
	Namespace        string `yaml:"namespace" env:"EXPIRYD_OXIA_NAMESPACE"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs" env:"EXPIRYD_OXIA_REQUEST_TIMEOUT_MS"`
	PebbleDir        string `yaml:"pebbleDir" env:"EXPIRYD_PEBBLE_DIR"`
}

// RequestTimeout returns RequestTimeoutMs as a duration.
func (m MetadataConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutMs) * time.Millisecond
}

type EventsConfig struct {
	Enabled bool     `yaml:"enabled" env:"EXPIRYD_EVENTS_ENABLED"`
	Brokers []string `yaml:"brokers" env:"EXPIRYD_EVENTS_BROKERS"`
	Topic   string   `yaml:"topic" env:"EXPIRYD_EVENTS_TOPIC"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"EXPIRYD_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"EXPIRYD_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"EXPIRYD_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Sweep: SweepConfig{
			LookbackHours: 72, // 3 days of hour buckets
			PageSize:      100,
			IntervalMs:    3600000, // 1 hour
			RunTimeoutMs:  900000,  // 15 minutes
		},
		Metadata: MetadataConfig{
			Backend:          BackendOxia,
			OxiaEndpoint:     "localhost:6648",
			Namespace:        "expiryd",
			RequestTimeoutMs: 30000,
			PebbleDir:        "data/expiryd",
		},
		Events: EventsConfig{
			Topic: "consent-expiry-events",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads the file named by EXPIRYD_CONFIG, or starts from defaults when
// it is unset, then applies environment overrides.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file over the defaults and applies environment
// overrides. Unknown keys are rejected.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config over the defaults and applies environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse YAML: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Sweep.LookbackHours <= 0 {
		errs = append(errs, fmt.Errorf("sweep.lookbackHours must be positive, got %d", c.Sweep.LookbackHours))
	}
	if c.Sweep.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("sweep.pageSize must be positive, got %d", c.Sweep.PageSize))
	}
	if c.Sweep.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("sweep.intervalMs must be positive, got %d", c.Sweep.IntervalMs))
	}
	if c.Sweep.RunTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("sweep.runTimeoutMs must not be negative, got %d", c.Sweep.RunTimeoutMs))
	}

	switch c.Metadata.Backend {
	case BackendOxia:
		if c.Metadata.OxiaEndpoint == "" {
			errs = append(errs, errors.New("metadata.oxiaEndpoint is required for the oxia backend"))
		}
		if c.Metadata.Namespace == "" {
			errs = append(errs, errors.New("metadata.namespace is required for the oxia backend"))
		}
	case BackendPebble:
		if c.Metadata.PebbleDir == "" {
			errs = append(errs, errors.New("metadata.pebbleDir is required for the pebble backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.backend must be %q or %q, got %q", BackendOxia, BackendPebble, c.Metadata.Backend))
	}

	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers is required when events are enabled"))
		}
		if c.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic is required when events are enabled"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
