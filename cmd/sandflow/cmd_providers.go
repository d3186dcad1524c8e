package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var providersFeatures []string

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List cataloged providers",
	Long: `List every provider in the catalog with its features and
authentication requirements. With --features, also show which
provider would be recommended for that feature set.`,
	Example: `  sandflow providers
  sandflow providers --features gpu-compute
  sandflow providers --features code-execution,filesystem`,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().StringSliceVar(&providersFeatures, "features", nil, "Recommend a provider for these features")
}

func runProviders(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	fmt.Println("Available providers:")
	fmt.Println()
	for _, def := range app.registry.Definitions() {
		marker := " "
		if def.Key == app.cfg.DefaultProvider {
			marker = "*"
		}
		fmt.Printf("%s %-10s %s\n", marker, def.Key, def.DisplayName)
		fmt.Printf("    Backend:  %s\n", def.BackendType)
		fmt.Printf("    Features: %s\n", strings.Join(def.Features, ", "))
		fmt.Printf("    Auth:     %s", def.Auth.Type)
		if def.Auth.EnvVar != "" {
			fmt.Printf(" (%s)", def.Auth.EnvVar)
		}
		fmt.Println()
		fmt.Println()
	}

	if len(providersFeatures) > 0 {
		key, err := app.registry.Recommend(providersFeatures)
		if err != nil {
			return fmt.Errorf("no provider supports %v: %w", providersFeatures, err)
		}
		fmt.Printf("💡 Recommended for %v: %s\n", providersFeatures, key)
	}
	return nil
}
