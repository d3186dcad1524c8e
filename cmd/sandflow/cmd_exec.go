package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/types"
)

var (
	execCode     string
	execFile     string
	execLanguage string
	execTimeout  time.Duration
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <sandbox-id>",
	Short: "Execute code inside a sandbox",
	Long: `Execute code or a shell command inside an existing sandbox.

The execution is synchronous: stdout, stderr, and the exit code are
returned when the sandbox finishes. Every execution is appended to
the sandbox's bounded history and visible via 'sandflow logs'.`,
	Example: `  sandflow exec abc123 --code '1+1'
  sandflow exec abc123 --code 'print("hi")' --language python
  sandflow exec abc123 --file script.py
  sandflow exec abc123 --code 'ls -la' --language bash`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVarP(&execCode, "code", "c", "", "Code to execute")
	execCmd.Flags().StringVarP(&execFile, "file", "f", "", "Read code from file")
	execCmd.Flags().StringVarP(&execLanguage, "language", "l", "python", "Execution language")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "Execution timeout forwarded to the backend")
}

func runExec(cmd *cobra.Command, args []string) error {
	code := execCode
	if execFile != "" {
		data, err := os.ReadFile(execFile) // #nosec G304 -- path is intentional user input
		if err != nil {
			return fmt.Errorf("failed to read code file: %w", err)
		}
		code = string(data)
	}

	app, err := newApp()
	if err != nil {
		return err
	}

	provider, key, err := app.provider()
	if err != nil {
		return err
	}

	result, err := provider.ExecuteAction(context.Background(), args[0], "execute", providers.ExecParams{
		Code:     code,
		Language: execLanguage,
		Timeout:  execTimeout,
	})
	if err != nil {
		if flowErr, ok := types.AsFlowError(err); ok && flowErr.Category == types.CategoryExecution && result.ExitCode != 0 {
			auditEvent(app, journal.EntryExecuted, key, args[0], executionAudit(result))
			printExecution(result)
			os.Exit(result.ExitCode)
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	auditEvent(app, journal.EntryExecuted, key, args[0], executionAudit(result))
	printExecution(result)
	return nil
}

func executionAudit(result providers.Execution) map[string]interface{} {
	return map[string]interface{}{
		"language":    execLanguage,
		"exit_code":   result.ExitCode,
		"duration_ms": result.DurationMs,
	}
}

func printExecution(result providers.Execution) {
	if result.Stdout != "" {
		fmt.Print(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	fmt.Printf("\n⏱  %dms, exit %d\n", result.DurationMs, result.ExitCode)
}
