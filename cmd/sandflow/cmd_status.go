package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/types"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <sandbox-id>",
	Short: "Show the live status of a sandbox",
	Long: `Probe the backend for a sandbox's liveness.

An unknown id reports not_found without an error. A failed probe
reports terminated: the backend could not confirm the sandbox is
alive, so it is treated as gone.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	view, err := provider.GetResourceStatus(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	fmt.Printf("%s %s\n", statusIcon(view.Status), args[0])
	fmt.Printf("   Provider: %s\n", key)
	fmt.Printf("   Status:   %s\n", view.Status)
	if !view.CreatedAt.IsZero() {
		fmt.Printf("   Created:  %s (%s ago)\n",
			view.CreatedAt.Format(time.RFC3339),
			time.Since(view.CreatedAt).Round(time.Second))
	}
	return nil
}

func statusIcon(status types.ResourceStatus) string {
	switch status {
	case types.StatusReady:
		return "🟢"
	case types.StatusTerminated:
		return "🔴"
	default:
		return "⚪"
	}
}
