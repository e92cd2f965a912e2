package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Admission-control gateway for metered APIs",
	Long: `Gatekeeper rate limits callers and enforces daily and monthly unit budgets
in front of an upstream application.

Configuration is read from environment variables; a .env file in the working
directory is loaded first when present.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and installs the logger for commands
// that need them. The caller closes the returned closer.
func bootstrap() (*config.Config, io.Closer, error) {
	cfg, closer, err := app.Bootstrap()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, closer, nil
}

func closeLogger(closer io.Closer) {
	logging.MustSync()
	_ = closer.Close()
}
