// Package daemon hosts the long-running sandflow process: background
// cleaner loops per provider, journal retention, and the metrics
// endpoint.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/cleaner"
	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/telemetry"
)

// Config holds daemon configuration
type Config struct {
	MetricsAddr     string
	JournalDir      string
	JournalConfig   journal.Config
	JournalInterval time.Duration
	RecordRetention time.Duration
}

// Daemon manages the background loops
type Daemon struct {
	config    Config
	cleaners  map[string]*cleaner.Cleaner
	logger    zerolog.Logger
	startTime time.Time
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, cleaners map[string]*cleaner.Cleaner, logger zerolog.Logger) *Daemon {
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.JournalInterval <= 0 {
		config.JournalInterval = 24 * time.Hour
	}
	if config.RecordRetention <= 0 {
		config.RecordRetention = 30 * 24 * time.Hour
	}
	return &Daemon{
		config:    config,
		cleaners:  cleaners,
		logger:    logger.With().Str("component", "daemon").Logger(),
		startTime: time.Now(),
	}
}

// Run starts all daemon actors and blocks until one exits or a
// termination signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	var group run.Group

	group.Add(run.SignalHandler(ctx, syscall.SIGTERM, syscall.SIGINT))

	d.addMetricsServer(&group)
	d.addCleaners(ctx, &group)
	d.addRetention(ctx, &group)

	d.logger.Info().
		Str("metrics_addr", d.config.MetricsAddr).
		Int("cleaners", len(d.cleaners)).
		Msg("daemon starting")

	err := group.Run()
	if err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) || errors.Is(err, context.Canceled) {
			d.logger.Info().Msg("daemon stopped")
			return nil
		}
	}
	return err
}

func (d *Daemon) addMetricsServer(group *run.Group) {
	server := &http.Server{
		Addr:              d.config.MetricsAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group.Add(
		func() error {
			return server.ListenAndServe()
		},
		func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		},
	)
}

func (d *Daemon) addCleaners(ctx context.Context, group *run.Group) {
	for provider, cl := range d.cleaners {
		cl := cl
		loopCtx, cancel := context.WithCancel(ctx)
		d.logger.Info().Str("provider", provider).Msg("registering cleaner loop")

		group.Add(
			func() error {
				err := cl.Run(loopCtx)
				if err == context.Canceled {
					return nil
				}
				return err
			},
			func(error) {
				cancel()
			},
		)
	}
}

// addRetention prunes old journal files and stale tracker record
// files once per interval.
func (d *Daemon) addRetention(ctx context.Context, group *run.Group) {
	loopCtx, cancel := context.WithCancel(ctx)
	group.Add(
		func() error {
			ticker := time.NewTicker(d.config.JournalInterval)
			defer ticker.Stop()
			for {
				select {
				case <-loopCtx.Done():
					return nil
				case <-ticker.C:
					d.pruneJournal()
					d.pruneRecords()
				}
			}
		},
		func(error) {
			cancel()
		},
	)
}

func (d *Daemon) pruneJournal() {
	if d.config.JournalDir == "" {
		return
	}
	stats, err := journal.CleanupWithStats(d.config.JournalDir, d.config.JournalConfig)
	if err != nil {
		d.logger.Warn().Err(err).Msg("journal cleanup failed")
		return
	}
	if stats.FilesRemoved > 0 {
		d.logger.Info().
			Int("removed", stats.FilesRemoved).
			Int64("bytes_freed", stats.BytesFreed).
			Msg("pruned old journal files")
	}
}

func (d *Daemon) pruneRecords() {
	for provider, cl := range d.cleaners {
		removed, err := cl.Tracker().CleanupOldData(d.config.RecordRetention)
		if err != nil {
			d.logger.Warn().Err(err).Str("provider", provider).Msg("record cleanup failed")
			continue
		}
		if removed > 0 {
			d.logger.Info().
				Int("removed", removed).
				Str("provider", provider).
				Msg("pruned stale resource records")
		}
	}
}

// Handler returns the HTTP surface: Prometheus metrics plus health
// and readiness probes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			telemetry.PrometheusRegistry,
			promhttp.HandlerOpts{},
		))
	}
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(d.startTime).Seconds()),
	}
}
