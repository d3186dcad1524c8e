package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sandboxes",
	Long:  `List every sandbox the selected provider currently tracks.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	views, err := provider.ListResources(context.Background())
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	if len(views) == 0 {
		fmt.Printf("No active sandboxes on %s\n", key)
		return nil
	}

	fmt.Printf("Active sandboxes on %s:\n\n", key)
	for _, view := range views {
		fmt.Printf("%s %-30s %-12s %s ago\n",
			statusIcon(view.Status),
			view.ID,
			view.Status,
			time.Since(view.CreatedAt).Round(time.Second))
	}
	fmt.Printf("\n%d total\n", len(views))
	return nil
}
