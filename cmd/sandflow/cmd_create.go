package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/types"
)

var (
	createTemplate string
	createTimeout  time.Duration
	createMetadata []string
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new sandbox resource",
	Long: `Create a new sandbox on the selected provider.

The sandbox is tracked locally and stays alive until you delete it
or the background cleaner reclaims it after the configured maximum
age (4 hours by default).`,
	Example: `  sandflow create                          # Default template
  sandflow create --template code-interpreter
  sandflow create -p lambda                # AWS Lambda backend
  sandflow create --meta team=data --meta sandflow:protected=true`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&createTemplate, "template", "t", "", "Template or runtime image")
	createCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "Request timeout override")
	createCmd.Flags().StringArrayVar(&createMetadata, "meta", nil, "Metadata key=value (repeatable)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	overrides := types.ProviderConfig{
		Template:       createTemplate,
		RequestTimeout: createTimeout,
	}

	ctx := context.Background()
	view, err := provider.CreateResource(ctx, overrides)
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}

	auditEvent(app, journal.EntryCreated, key, view.ID, map[string]string{
		"template": view.Template,
		"status":   string(view.Status),
	})

	if meta := parseMetadata(createMetadata); len(meta) > 0 {
		if view, err = provider.UpdateResource(ctx, view.ID, meta); err != nil {
			return fmt.Errorf("failed to apply metadata: %w", err)
		}
		auditEvent(app, journal.EntryUpdated, key, view.ID, meta)
	}

	fmt.Printf("✨ Created %s sandbox\n", key)
	fmt.Printf("   ID:       %s\n", view.ID)
	fmt.Printf("   Status:   %s\n", view.Status)
	fmt.Printf("   Created:  %s\n", view.CreatedAt.Format(time.RFC3339))
	return nil
}

func parseMetadata(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				meta[pair[:i]] = pair[i+1:]
				break
			}
		}
	}
	return meta
}
