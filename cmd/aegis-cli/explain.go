package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

const burnRateText = `A burn rate is how fast an SLO spends its error budget relative to its
compliance window:

    burn_rate = (1 - SLI) / (1 - target)

At 1x the budget lasts exactly one compliance window. At 14.4x a 30 day
budget is gone in a little over two days.

Every rule pairs a short window with a long one. An alert fires only when
both windows burn at or above the multiplier, and it resolves only when both
drop below it. The long window keeps brief spikes from paging; the short
window lets the alert resolve soon after the problem stops. Windows without
data leave the alert where it is.
`

func newExplainCommand() *cobra.Command {
	var (
		window string
		target float64
	)

	cmd := &cobra.Command{
		Use:       "explain [burn-rate]",
		Short:     "Explain burn rate alerting and the recommended rules",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"burn-rate"},
		RunE: func(cmd *cobra.Command, args []string) error {
			compliance, err := slo.ParseDuration(window)
			if err != nil {
				return fmt.Errorf("invalid --window: %w", err)
			}
			if target <= 0 || target >= 1 {
				return fmt.Errorf("--target must be between 0 and 1, got %g", target)
			}
			return explainBurnRate(cmd.OutOrStdout(), compliance, target)
		},
	}
	cmd.Flags().StringVar(&window, "window", "30d", "Compliance window")
	cmd.Flags().Float64Var(&target, "target", 0.999, "SLO target")
	return cmd
}

func explainBurnRate(out io.Writer, compliance time.Duration, target float64) error {
	allowed := 1 - target
	fmt.Fprint(out, burnRateText+"\n")
	fmt.Fprintf(out, "Recommended rules for target %g over %s (allowed error rate %.3f%%):\n\n",
		target, slo.FormatDuration(compliance), allowed*100)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tWINDOWS\tMULTIPLIER\tERROR RATE\tBUDGET SPENT\tFULL BUDGET LASTS")
	for _, rule := range slo.RecommendedRules() {
		spent := rule.Multiplier * float64(rule.LongWindow) / float64(compliance)
		fmt.Fprintf(w, "%s\t%s/%s\t%gx\t%.3f%%\t%.1f%%\t%s\n",
			rule.Severity,
			slo.FormatDuration(rule.ShortWindow), slo.FormatDuration(rule.LongWindow),
			rule.Multiplier,
			rule.Multiplier*allowed*100,
			spent*100,
			slo.FormatDuration(slo.TimeToExhaustion(compliance, rule.Multiplier).Round(time.Hour)),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nBUDGET SPENT is the share of the budget used by the time the long window fires.")
	return nil
}
