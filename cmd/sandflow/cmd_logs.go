package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/types"
)

var (
	logsLimit  int
	logsLevel  string
	logsSince  time.Duration
	logsFollow bool
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs <sandbox-id>",
	Short: "Show a sandbox's execution log",
	Long: `Show the stored log history for a sandbox, newest first.

With --follow, new entries are streamed as they arrive until
interrupted. Streaming polls the stored history; backends that offer
a push channel advertise it via their capabilities.`,
	Example: `  sandflow logs abc123
  sandflow logs abc123 --limit 10
  sandflow logs abc123 --level error
  sandflow logs abc123 --since 30m
  sandflow logs abc123 --follow`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 0, "Maximum entries to show")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by level (info, warn, error)")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Only entries newer than this")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Stream new entries until interrupted")
}

func runLogs(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, _, err := app.provider()
	if err != nil {
		return err
	}

	if logsFollow {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		err := provider.StreamResourceLogs(ctx, args[0], printLogEntry)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	opts := types.LogOptions{
		Limit: logsLimit,
		Level: logsLevel,
	}
	if logsSince > 0 {
		opts.Since = time.Now().Add(-logsSince)
	}

	entries, err := provider.GetResourceLogs(args[0], opts)
	if err != nil {
		return fmt.Errorf("failed to fetch logs: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No log entries")
		return nil
	}
	for _, entry := range entries {
		printLogEntry(entry)
	}
	return nil
}

func printLogEntry(entry types.LogEntry) {
	out := os.Stdout
	if entry.Level == "error" {
		out = os.Stderr
	}
	fmt.Fprintf(out, "%s  %-5s  %s\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message)
}
