package main

import (
	"fmt"

	"github.com/apimarket/metergate/bootstrap"
	"github.com/apimarket/metergate/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := bootstrap.NewLogger(config.LoggingConfig{Level: "info", Format: "json"})

	holder, err := newHolder(logger)
	if err != nil {
		return err
	}

	a, err := bootstrap.New(holder)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return a.Run()
}

// newHolder loads configuration from the --config file, falling back to
// METERGATE_* environment variables when the file does not exist.
func newHolder(logger zerolog.Logger) (*config.Holder, error) {
	if _, err := config.LoadWithFallback(cfgFile); err != nil {
		return nil, err
	}
	h, err := config.NewHolder(cfgFile, logger)
	if err != nil {
		// No usable file; wrap the env-only config in a static holder.
		return config.NewStaticHolder(logger)
	}
	return h, nil
}
