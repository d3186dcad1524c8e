package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// metricsCmd represents the metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregate usage metrics",
	Long: `Show the selected provider's aggregate lifecycle metrics:
resources created and destroyed, executions run, and average
resource lifetime.`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	m := provider.GetMetrics()

	fmt.Printf("📊 Metrics for %s\n\n", key)
	fmt.Printf("   Created:          %d\n", m.TotalCreated)
	fmt.Printf("   Destroyed:        %d\n", m.TotalDestroyed)
	fmt.Printf("   Active:           %d\n", m.CurrentActive)
	fmt.Printf("   Executions:       %d\n", m.TotalExecutions)
	fmt.Printf("   Execution errors: %d\n", m.TotalErrors)
	if m.TotalDestroyed > 0 {
		avg := time.Duration(m.AverageLifetimeMs) * time.Millisecond
		fmt.Printf("   Avg lifetime:     %s\n", avg.Round(time.Second))
	}
	return nil
}
