package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/config"
	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/providers/catalog"
)

var (
	version = "0.1.0"

	cfgFile     string
	providerKey string
	debug       bool

	rootCmd = &cobra.Command{
		Use:   "sandflow",
		Short: "Sandbox Lifecycle Engine",
		Long: `Sandflow - Sandbox Lifecycle Engine

Sandflow provisions disposable compute sandboxes across backends,
executes code inside them, and reclaims whatever gets left behind.

Create sandboxes, run code, inspect execution history, and let the
background cleaner kill anything that outlives its welcome.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Sandflow {{.Version}} - Sandbox Lifecycle Engine
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.sandflow/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&providerKey, "provider", "p", "", "Provider key (default from config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// app bundles the wiring every command needs.
type app struct {
	cfg      *config.Config
	registry *providers.Registry
	logger   zerolog.Logger
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger()

	registry, err := catalog.NewRegistry(logger, cfg.DefaultProvider, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	return &app{cfg: cfg, registry: registry, logger: logger}, nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadConfig(cfgFile)
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".sandflow", "config.yaml")
		if _, statErr := os.Stat(path); statErr == nil {
			return config.LoadConfig(path)
		}
	}

	return config.Default(), nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// selectedKey resolves the provider key: flag first, config default
// second.
func (a *app) selectedKey() string {
	if providerKey != "" {
		return providerKey
	}
	return a.cfg.DefaultProvider
}

// provider constructs the selected provider with its configured
// overrides merged over catalog defaults.
func (a *app) provider() (providers.Provider, string, error) {
	key := a.selectedKey()
	p, err := a.registry.CreateProvider(key, a.cfg.Provider(key))
	if err != nil {
		return nil, key, err
	}
	return p, key, nil
}
