package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/common/utils"
	"gatekeeper/internal/quota"
)

var usageFlags struct {
	plan   string
	asJSON bool
}

var usageCmd = &cobra.Command{
	Use:   "usage <caller>",
	Short: "Show a caller's quota",
	Long: `Show today's consumption, the daily limit and this month's totals for a
caller. Callers are named the way the gateway keys them: "user:<id>" for
token holders, "ip:<address>" for anonymous clients.

Examples:
  gatekeeper usage user:42
  gatekeeper usage user:42 --plan pro --json`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageFlags.plan, "plan", "", "plan tier to evaluate (default: DEFAULT_PLAN)")
	usageCmd.Flags().BoolVar(&usageFlags.asJSON, "json", false, "print the snapshot as JSON")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, closer, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLogger(closer)

	snapshot, err := app.Usage(cmd.Context(), cfg, args[0], usageFlags.plan)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if usageFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	printSnapshot(out, snapshot, time.Now())
	return nil
}

func printSnapshot(out io.Writer, s quota.QuotaSnapshot, now time.Time) {
	fmt.Fprintf(out, "Caller:          %s\n", s.CallerID)
	fmt.Fprintf(out, "Plan:            %s\n", s.Plan)
	if s.DailyLimit < 0 {
		fmt.Fprintf(out, "Today:           %d units (unlimited)\n", s.ConsumedToday)
	} else {
		fmt.Fprintf(out, "Today:           %d / %d units, %d remaining\n", s.ConsumedToday, s.DailyLimit, s.RemainingToday)
	}
	if s.Exhausted {
		fmt.Fprintln(out, "Status:          exhausted")
	}
	fmt.Fprintf(out, "This month:      %d units, %.4f cost\n", s.ConsumedThisMonth, s.CostThisMonth)
	fmt.Fprintf(out, "Monthly budget:  %d units, %.2f cost\n", s.MonthlyUnitBudget, s.MonthlyCostBudget)
	fmt.Fprintf(out, "Resets at:       %s (in %s)\n",
		s.ResetsAt.Format("2006-01-02 15:04 MST"), utils.FormatDuration(s.ResetsAt.Sub(now)))
}
