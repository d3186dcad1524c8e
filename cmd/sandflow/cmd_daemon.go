package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/cleaner"
	"github.com/sandflow/sandflow/internal/daemon"
	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/telemetry"
)

var daemonMetricsAddr string

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background cleanup daemon",
	Long: `Run Sandflow in daemon mode.

The daemon hosts a cleanup loop per configured provider, prunes old
journal files, and serves Prometheus metrics.

Features:
- Periodic age-based sweeps with policy protection
- Untracked remote reconciliation (guards against tracking loss)
- Prometheus metrics on /metrics
- Health checks on /health and /-/ready
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  sandflow daemon                       # Run with config defaults
  sandflow daemon --metrics :2112       # Custom metrics address`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics", "", "Metrics HTTP server address (default from config)")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	ctx := context.Background()

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "sandflow",
		ServiceVersion: version,
		Environment:    app.cfg.Telemetry.Environment,
		OTELEndpoint:   app.cfg.Telemetry.OTELEndpoint,
		Insecure:       app.cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	cleaners := make(map[string]*cleaner.Cleaner)
	var journals []*journal.Journal
	defer func() {
		for _, j := range journals {
			_ = j.Close()
		}
	}()

	for key := range app.cfg.Providers {
		cl, j, err := buildCleaner(ctx, app, key)
		if err != nil {
			app.logger.Error().Err(err).Str("provider", key).Msg("skipping cleaner, provider unavailable")
			continue
		}
		cleaners[key] = cl
		if j != nil {
			journals = append(journals, j)
		}
	}
	if len(cleaners) == 0 {
		return fmt.Errorf("no usable providers configured, nothing to clean")
	}

	metricsAddr := daemonMetricsAddr
	if metricsAddr == "" {
		metricsAddr = app.cfg.Daemon.MetricsAddr
	}

	journalCfg := journal.DefaultConfig()
	journalCfg.RetentionDays = app.cfg.Journal.RetentionDays

	d := daemon.NewDaemon(daemon.Config{
		MetricsAddr:     metricsAddr,
		JournalDir:      journalDir(app),
		JournalConfig:   journalCfg,
		RecordRetention: time.Duration(journalCfg.RetentionDays) * 24 * time.Hour,
	}, cleaners, app.logger)

	fmt.Printf("🚀 Sandflow daemon starting\n")
	fmt.Printf("   Providers: %d\n", len(cleaners))
	fmt.Printf("   Metrics:   http://localhost%s/metrics\n", metricsAddr)
	fmt.Printf("   Health:    http://localhost%s/health\n\n", metricsAddr)

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Println("\n👋 Daemon stopped")
	return nil
}
