package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
)

var serveFlags struct {
	port     int
	upstream string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway in front of UPSTREAM_URL.

The server stops gracefully on SIGINT or SIGTERM.

Examples:
  # Start with the environment configuration
  gatekeeper serve

  # Override the port and upstream
  gatekeeper serve --port 9090 --upstream http://localhost:3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "override PORT")
	serveCmd.Flags().StringVarP(&serveFlags.upstream, "upstream", "u", "", "override UPSTREAM_URL")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLogger(closer)

	if serveFlags.port != 0 {
		cfg.Port = serveFlags.port
	}
	if serveFlags.upstream != "" {
		cfg.UpstreamURL = serveFlags.upstream
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Serve(ctx, cfg)
}
