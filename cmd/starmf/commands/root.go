package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string
	verbose bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "starmf",
	Short: "StAR MF exchange order submission service",
	Long: `StAR MF order submission pipeline.

Accepts mutual fund orders from the advisor platform, queues them
durably, and submits them to the exchange's order-entry gateway with
bounded concurrency.

Usage:
  go run ./cmd/starmf [command]

Examples:
  go run ./cmd/starmf api
  go run ./cmd/starmf worker
  go run ./cmd/starmf scheduler
  go run ./cmd/starmf test-db`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
