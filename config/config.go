// Package config loads and validates the sandflow configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sandflow/sandflow/cleaner"
	"github.com/sandflow/sandflow/types"
)

// Config represents the main configuration
type Config struct {
	Version         string                          `yaml:"version"`
	DefaultProvider string                          `yaml:"default_provider"`
	DataDir         string                          `yaml:"data_dir,omitempty"`
	Providers       map[string]types.ProviderConfig `yaml:"providers,omitempty"`
	Cleanup         Cleanup                         `yaml:"cleanup,omitempty"`
	Journal         Journal                         `yaml:"journal,omitempty"`
	Telemetry       Telemetry                       `yaml:"telemetry,omitempty"`
	Daemon          Daemon                          `yaml:"daemon,omitempty"`
}

// Cleanup controls the background cleaner thresholds.
type Cleanup struct {
	AutoCleanupHours           float64 `yaml:"auto_cleanup_hours"`
	WarnBeforeCleanupMinutes   float64 `yaml:"warn_before_cleanup_minutes"`
	IntervalMinutes            float64 `yaml:"interval_minutes"`
	UntrackedSafetyMarginHours float64 `yaml:"untracked_safety_margin_hours"`
}

// Journal controls audit journal retention.
type Journal struct {
	RetentionDays int `yaml:"retention_days"`
}

// Telemetry controls trace and metric export.
type Telemetry struct {
	OTELEndpoint string `yaml:"otel_endpoint,omitempty"`
	Environment  string `yaml:"environment,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// Daemon controls the background process surfaces.
type Daemon struct {
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable configuration without a file.
func Default() *Config {
	cfg := &Config{
		Version:         "v1",
		DefaultProvider: "e2b",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".sandflow")
	}
	if c.Cleanup.AutoCleanupHours <= 0 {
		c.Cleanup.AutoCleanupHours = 4
	}
	if c.Cleanup.WarnBeforeCleanupMinutes <= 0 {
		c.Cleanup.WarnBeforeCleanupMinutes = 30
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.UntrackedSafetyMarginHours <= 0 {
		c.Cleanup.UntrackedSafetyMarginHours = 6
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 30
	}
	if c.Daemon.MetricsAddr == "" {
		c.Daemon.MetricsAddr = ":9090"
	}
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.DefaultProvider == "" {
		return fmt.Errorf("default_provider is required")
	}
	return nil
}

// Provider returns the configured overrides for a provider key,
// zero-valued when the file does not mention it.
func (c *Config) Provider(key string) types.ProviderConfig {
	if c.Providers == nil {
		return types.ProviderConfig{}
	}
	return c.Providers[key]
}

// CleanerConfig converts the cleanup settings to cleaner thresholds.
func (c *Config) CleanerConfig() cleaner.Config {
	return cleaner.Config{
		Interval:              time.Duration(c.Cleanup.IntervalMinutes * float64(time.Minute)),
		MaxAge:                time.Duration(c.Cleanup.AutoCleanupHours * float64(time.Hour)),
		WarnWindow:            time.Duration(c.Cleanup.WarnBeforeCleanupMinutes * float64(time.Minute)),
		UntrackedSafetyMargin: time.Duration(c.Cleanup.UntrackedSafetyMarginHours * float64(time.Hour)),
	}
}
