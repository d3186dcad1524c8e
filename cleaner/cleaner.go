// Package cleaner reclaims stale sandbox resources. It sweeps locally
// tracked resources against age thresholds and reconciles the remote
// backend against local tracking so that tracking loss never leaves
// paid resources running.
package cleaner

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/policy"
	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/telemetry"
	"github.com/sandflow/sandflow/tracker"
	"github.com/sandflow/sandflow/types"
)

// Target is the provider surface the cleaner drives: lifecycle delete
// for tracked resources plus direct remote list/delete for untracked
// reconciliation.
type Target interface {
	DeleteResource(ctx context.Context, id string) error
	providers.Reconciler
}

// Config controls sweep cadence and age thresholds.
type Config struct {
	Interval              time.Duration `yaml:"interval"`
	MaxAge                time.Duration `yaml:"max_age"`
	WarnWindow            time.Duration `yaml:"warn_window"`
	UntrackedSafetyMargin time.Duration `yaml:"untracked_safety_margin"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:              30 * time.Minute,
		MaxAge:                4 * time.Hour,
		WarnWindow:            30 * time.Minute,
		UntrackedSafetyMargin: 6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.WarnWindow <= 0 {
		c.WarnWindow = d.WarnWindow
	}
	if c.UntrackedSafetyMargin <= 0 {
		c.UntrackedSafetyMargin = d.UntrackedSafetyMargin
	}
	return c
}

// SweepResult is the outcome of one sweep cycle.
type SweepResult struct {
	Killed     int                      `json:"killed"`
	Warned     int                      `json:"warned"`
	Protected  int                      `json:"protected"`
	Reconciled int                      `json:"reconciled"`
	Failed     []providers.BatchFailure `json:"failed,omitempty"`
	Duration   time.Duration            `json:"duration"`
}

// Cleaner runs the reclamation loop for one provider.
type Cleaner struct {
	target   Target
	tracker  *tracker.Tracker
	policies *policy.Engine
	journal  *journal.Journal
	provider string
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures optional cleaner collaborators.
type Option func(*Cleaner)

// WithPolicyEngine wires a policy engine; protected resources survive
// the age sweep.
func WithPolicyEngine(engine *policy.Engine) Option {
	return func(c *Cleaner) { c.policies = engine }
}

// WithJournal wires an audit journal for cleanup decisions.
func WithJournal(j *journal.Journal) Option {
	return func(c *Cleaner) { c.journal = j }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// New creates a cleaner for one provider.
func New(target Target, tr *tracker.Tracker, provider string, config Config, logger zerolog.Logger, opts ...Option) *Cleaner {
	c := &Cleaner{
		target:   target,
		tracker:  tr,
		provider: provider,
		config:   config.withDefaults(),
		logger:   logger.With().Str("component", "cleaner").Str("provider", provider).Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tracker exposes the tracker the cleaner sweeps over.
func (c *Cleaner) Tracker() *tracker.Tracker {
	return c.tracker
}

// Run executes sweeps at the configured interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.logger.Info().
		Dur("interval", c.config.Interval).
		Dur("max_age", c.config.MaxAge).
		Msg("cleaner started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("cleaner stopped")
			return ctx.Err()
		case <-ticker.C:
			result, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			c.logger.Info().
				Int("killed", result.Killed).
				Int("warned", result.Warned).
				Int("protected", result.Protected).
				Int("reconciled", result.Reconciled).
				Int("failed", len(result.Failed)).
				Dur("duration", result.Duration).
				Msg("sweep completed")
		}
	}
}

// Sweep runs one full cycle: age out tracked resources, then
// reconcile untracked remote leftovers. Per-resource failures are
// collected, never fail-fast.
func (c *Cleaner) Sweep(ctx context.Context) (SweepResult, error) {
	start := c.now()
	var result SweepResult

	c.sweepTracked(ctx, &result)
	c.reconcileUntracked(ctx, &result)

	result.Duration = c.now().Sub(start)
	return result, nil
}

// sweepTracked walks tracked records and ages each one through
// alive, warned, killed.
func (c *Cleaner) sweepTracked(ctx context.Context, result *SweepResult) {
	now := c.now()

	for _, record := range c.tracker.Records() {
		age := now.Sub(record.Metrics.CreatedAt)

		switch {
		case age >= c.config.MaxAge:
			c.handleExpired(ctx, record, age, result)
		case age >= c.config.MaxAge-c.config.WarnWindow:
			c.handleWarning(record, age, result)
		}
	}
}

// handleExpired kills a resource past its maximum age, unless a
// policy protects it.
func (c *Cleaner) handleExpired(ctx context.Context, record *types.ResourceRecord, age time.Duration, result *SweepResult) {
	id := record.Resource.ID

	if c.isProtected(ctx, record) {
		result.Protected++
		return
	}

	if err := c.kill(ctx, id); err != nil {
		c.logger.Error().Err(err).
			Str("resource_id", id).
			Float64("age_hours", age.Hours()).
			Msg("failed to clean expired resource")
		result.Failed = append(result.Failed, providers.BatchFailure{
			ResourceID: id,
			Error:      err.Error(),
		})
		c.journalError(journal.EntryFailed, id, sweepEvent{AgeHours: age.Hours(), Action: "kill"}, err)
		return
	}

	c.logger.Info().
		Str("resource_id", id).
		Float64("age_hours", age.Hours()).
		Msg("cleaned expired resource")
	result.Killed++
	addCounter(ctx, telemetry.CleanupKills, c.provider)
	c.journalEvent(journal.EntryCleaned, id, sweepEvent{AgeHours: age.Hours(), Action: "kill"})
}

// handleWarning emits an expiry warning with the time remaining.
func (c *Cleaner) handleWarning(record *types.ResourceRecord, age time.Duration, result *SweepResult) {
	id := record.Resource.ID
	remaining := c.config.MaxAge - age

	c.logger.Warn().
		Str("resource_id", id).
		Float64("age_hours", age.Hours()).
		Dur("remaining", remaining).
		Msg("resource approaching cleanup threshold")
	result.Warned++
	addCounter(context.Background(), telemetry.CleanupWarnings, c.provider)
	c.journalEvent(journal.EntryWarned, id, sweepEvent{
		AgeHours:         age.Hours(),
		RemainingMinutes: remaining.Minutes(),
	})
}

// isProtected asks the policy engine whether the resource must
// survive the sweep. No engine means nothing is protected.
func (c *Cleaner) isProtected(ctx context.Context, record *types.ResourceRecord) bool {
	if c.policies == nil {
		return false
	}

	verdict, err := c.policies.Evaluate(ctx, record.Resource.View(), c.now())
	if err != nil {
		c.logger.Warn().Err(err).
			Str("resource_id", record.Resource.ID).
			Msg("policy evaluation failed, not protecting")
		return false
	}
	if verdict.Protect {
		c.logger.Info().
			Str("resource_id", record.Resource.ID).
			Str("reason", verdict.Reason).
			Msg("resource protected by policy")
	}
	return verdict.Protect
}

// kill deletes a resource remotely and clears local tracking. The
// provider's lifecycle delete covers resources it still holds in
// memory; records that survived a restart are finished off directly.
func (c *Cleaner) kill(ctx context.Context, id string) error {
	if err := c.target.DeleteResource(ctx, id); err != nil {
		return err
	}

	// The lifecycle delete untracks resources it knows about. A record
	// with no in-memory entry (post-restart) still needs a remote
	// delete and an untrack.
	if _, ok := c.tracker.Record(id); !ok {
		return nil
	}
	if err := c.target.DeleteRemote(ctx, id); err != nil {
		return err
	}
	if _, err := c.tracker.Untrack(id); err != nil {
		c.logger.Warn().Err(err).Str("resource_id", id).Msg("untrack after kill failed")
	}
	return nil
}

// sweepEvent is the journal payload for cleanup decisions.
type sweepEvent struct {
	AgeHours         float64 `json:"age_hours,omitempty"`
	RemainingMinutes float64 `json:"remaining_minutes,omitempty"`
	Action           string  `json:"action,omitempty"`
}

func (c *Cleaner) journalEvent(entryType journal.EntryType, resourceID string, data interface{}) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(entryType, c.provider, resourceID, data); err != nil {
		c.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("journal append failed")
	}
}

func (c *Cleaner) journalError(entryType journal.EntryType, resourceID string, data interface{}, cause error) {
	if c.journal == nil {
		return
	}
	if err := c.journal.AppendError(entryType, c.provider, resourceID, data, cause); err != nil {
		c.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("journal append failed")
	}
}

// addCounter guards against uninitialized telemetry in tests and
// library use.
func addCounter(ctx context.Context, counter metric.Int64Counter, provider string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
