package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/cleaner"
	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/policy"
	"github.com/sandflow/sandflow/tracker"
)

var cleanupForce bool

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim stale sandboxes now",
	Long: `Run one cleanup sweep immediately instead of waiting for the
daemon's next tick.

A sweep kills tracked sandboxes older than the configured maximum
age, warns about those approaching it, and deletes untracked remote
sandboxes older than the safety margin. Resources protected by
policy survive.

With --force, every remote sandbox is deleted regardless of age.
This is an operator escape hatch: use it when you want a completely
clean slate.`,
	Example: `  sandflow cleanup             # One age-based sweep
  sandflow cleanup --force     # Delete everything now
  sandflow cleanup -p lambda   # Sweep the Lambda backend`,
	RunE: runCleanupSweep,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Delete every remote sandbox regardless of age")
}

func runCleanupSweep(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	ctx := context.Background()
	cl, j, err := buildCleaner(ctx, app, app.selectedKey())
	if err != nil {
		return err
	}
	defer func() {
		if j != nil {
			_ = j.Close()
		}
	}()

	if cleanupForce {
		result := cl.ForceCleanupAll(ctx)
		fmt.Printf("🧹 Force cleanup: %d deleted, %d failed\n",
			len(result.Succeeded), len(result.Failed))
		for _, failure := range result.Failed {
			fmt.Printf("   ❌ %s: %s\n", failure.ResourceID, failure.Error)
		}
		if !result.Success() {
			return fmt.Errorf("%d deletions failed", len(result.Failed))
		}
		return nil
	}

	result, err := cl.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("🧹 Sweep completed in %s\n", result.Duration)
	fmt.Printf("   Killed:     %d\n", result.Killed)
	fmt.Printf("   Warned:     %d\n", result.Warned)
	fmt.Printf("   Protected:  %d\n", result.Protected)
	fmt.Printf("   Reconciled: %d\n", result.Reconciled)
	for _, failure := range result.Failed {
		fmt.Printf("   ❌ %s: %s\n", failure.ResourceID, failure.Error)
	}
	return nil
}

// buildCleaner assembles a cleaner for the given provider key with
// the default protection policy and an audit journal.
func buildCleaner(ctx context.Context, app *app, key string) (*cleaner.Cleaner, *journal.Journal, error) {
	p, err := app.registry.CreateProvider(key, app.cfg.Provider(key))
	if err != nil {
		return nil, nil, err
	}

	target, ok := p.(cleaner.Target)
	if !ok {
		return nil, nil, fmt.Errorf("provider %s does not support remote reconciliation", key)
	}
	tracked, ok := p.(interface{ Tracker() *tracker.Tracker })
	if !ok {
		return nil, nil, fmt.Errorf("provider %s does not expose its tracker", key)
	}

	opts := []cleaner.Option{}

	engine, err := policy.NewDefaultEngine(ctx, app.logger)
	if err != nil {
		app.logger.Warn().Err(err).Msg("default policy unavailable, sweeping unprotected")
	} else {
		opts = append(opts, cleaner.WithPolicyEngine(engine))
	}

	journalCfg := journal.DefaultConfig()
	journalCfg.RetentionDays = app.cfg.Journal.RetentionDays
	j, err := journal.Open(journalDir(app), journalCfg)
	if err != nil {
		app.logger.Warn().Err(err).Msg("journal unavailable, sweeping without audit trail")
		j = nil
	} else {
		opts = append(opts, cleaner.WithJournal(j))
	}

	cl := cleaner.New(target, tracked.Tracker(), key, app.cfg.CleanerConfig(), app.logger, opts...)
	return cl, j, nil
}

func journalDir(app *app) string {
	return filepath.Join(app.cfg.DataDir, "journal")
}
