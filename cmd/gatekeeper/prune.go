package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage records past the retention period",
	Long: `Delete ledger records older than LEDGER_RETENTION_DAYS once and exit.

The running gateway does this on LEDGER_PRUNE_SCHEDULE; this command is for
deployments that schedule pruning externally.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := bootstrap()
		if err != nil {
			return err
		}
		defer closeLogger(closer)

		removed, err := app.Prune(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d usage records\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
