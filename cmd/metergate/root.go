package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "metergate",
	Short: "Access control and usage metering for an API marketplace",
	Long: `Metergate sits between marketplace callers and API providers.

It authenticates API keys, enforces per-API hourly rate caps and credit
balances, dispatches admitted calls, and keeps an append-only usage
ledger.

Quick start:
  metergate serve              # Start the gateway
  metergate profiles create    # Register a caller and issue a key

Management:
  metergate profiles   # Manage caller accounts and credits
  metergate keys       # Rotate or revoke API keys
  metergate listings   # Manage the API catalog
  metergate usage      # Inspect usage summaries`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// Optional .env for local development; real deployments set
		// METERGATE_* variables directly.
		godotenv.Load()
	})
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "metergate.yaml", "config file path")
}
