package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate - fixed-window rate limiting with built-in telemetry",
	Long: `Tollgate admits or rejects requests per caller using fixed time windows
kept in a shared counter store (memory, Redis or SQLite).

Alongside the admission filter it provides:
  - Counters, gauges and histograms with Prometheus and JSON export
  - Health and readiness probes for the counter store and database
  - Error tracking with categorization, performance timers and alerts`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// An empty config path starts from the built-in defaults.
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
