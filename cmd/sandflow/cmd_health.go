package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/types"
)

var healthAll bool

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check provider health",
	Long: `Check whether the selected provider (or every cataloged
provider with --all) can reach its backend. Health checks never
fail hard: an unreachable backend reports unhealthy.`,
	Example: `  sandflow health            # Selected provider only
  sandflow health --all      # Every cataloged provider`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().BoolVarP(&healthAll, "all", "a", false, "Check every cataloged provider")
}

func runHealth(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	ctx := context.Background()

	if healthAll {
		configs := make(map[string]types.ProviderConfig)
		for _, def := range app.registry.Definitions() {
			configs[def.Key] = app.cfg.Provider(def.Key)
		}
		results := app.registry.CheckAllHealth(ctx, configs)

		keys := make([]string, 0, len(results))
		for key := range results {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		unhealthy := 0
		for _, key := range keys {
			printHealth(key, results[key].Success, results[key].Status, results[key].Error)
			if !results[key].Success {
				unhealthy++
			}
		}
		if unhealthy > 0 {
			return fmt.Errorf("%d of %d providers unhealthy", unhealthy, len(results))
		}
		return nil
	}

	key := app.selectedKey()
	health := app.registry.CheckHealth(ctx, key, app.cfg.Provider(key))
	printHealth(key, health.Success, health.Status, health.Error)
	if !health.Success {
		return fmt.Errorf("provider %s is unhealthy", key)
	}
	return nil
}

func printHealth(key string, success bool, status, errMsg string) {
	icon := "💚"
	if !success {
		icon = "💔"
	}
	fmt.Printf("%s %-10s %s", icon, key, status)
	if errMsg != "" {
		fmt.Printf("  (%s)", errMsg)
	}
	fmt.Println()
}
