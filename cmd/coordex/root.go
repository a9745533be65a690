package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/version"
)

var (
	jsonOutput bool
	repoFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "coordex",
	Short: "Parallel development session coordinator",
	Long: `coordex coordinates multiple AI coding agents working in the same
git repository at once.

Core capabilities:
- Registers sessions into the main checkout or sibling worktrees
- Tracks cooperative file claims across sessions
- Detects and auto-resolves merge conflicts between session branches
- Drives remote sandboxes with timeout and budget enforcement
- Tracks spend against daily/weekly/monthly budgets

Available commands:
  session   register/heartbeat/release/status/cleanup
  claim     acquire/release/escalate/list
  merge     subscribe/poll
  conflict  detect/suggest/apply
  sandbox   create/upload/download/status/scan
  budget    show/record
  config    get/set

Use "coordex [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.Version = version.Get()
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit log output as JSON lines")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository path (default: current directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(conflictCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(configCmd)
}

func fail(err error) error {
	color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	return err
}

func warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

func ok(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}
