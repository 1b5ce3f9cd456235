package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

func newAlertsCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Evaluate every burn rate rule once and show which would fire",
		Long: `Evaluates the burn rate rules of the loaded SLOs at a single point in time.
State starts from pending, so the output shows which rules fire right now.
Nothing is stored and no notification is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			defs, err := e.definitions(o.sloName)
			if err != nil {
				return err
			}

			engine := alerting.NewEngine(e.evaluator, alerting.NewMemoryStore(), nil, alerting.WithLogger(e.logger))
			var all []alerting.Alert
			for _, def := range defs {
				alerts, err := engine.Evaluate(cmd.Context(), def, e.at)
				if err != nil {
					e.logger.Warn("rules held", "slo", def.Name, "err", err)
				}
				all = append(all, alerts...)
			}

			if o.output == "json" {
				if all == nil {
					all = []alerting.Alert{}
				}
				return writeJSON(cmd.OutOrStdout(), all)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLO\tSEVERITY\tWINDOWS\tSHORT BURN\tLONG BURN\tMULTIPLIER\tSTATE")
			for _, a := range all {
				state := string(a.State)
				if a.HeldReason != "" {
					state += " (" + a.HeldReason + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%.2f\t%.2f\t%g\t%s\n",
					a.SLOName, a.Severity,
					slo.FormatDuration(a.ShortWindow), slo.FormatDuration(a.LongWindow),
					a.ShortWindowBurn, a.LongWindowBurn, a.Multiplier, state)
			}
			return w.Flush()
		},
	}
}
