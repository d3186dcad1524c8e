package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/journal"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <sandbox-id>...",
	Short: "Delete one or more sandboxes",
	Long: `Delete sandboxes on the selected provider.

Deletion is idempotent: deleting an id that is already gone succeeds
quietly, so retries are always safe.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	ctx := context.Background()
	failed := 0
	for _, id := range args {
		if err := provider.DeleteResource(ctx, id); err != nil {
			fmt.Printf("❌ %s: %v\n", id, err)
			failed++
			continue
		}
		auditEvent(app, journal.EntryDeleted, key, id, nil)
		fmt.Printf("🗑  Deleted %s\n", id)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(args))
	}
	return nil
}
