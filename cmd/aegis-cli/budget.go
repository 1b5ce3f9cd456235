package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

type budgetRow struct {
	SLO    string        `json:"slo"`
	Budget *budget.State `json:"budget,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func newBudgetCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Compute the error budget of every SLO over its compliance window",
		Args:  cobra.NoArgs,
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

			tracker := budget.NewTracker(e.evaluator)
			rows := make([]budgetRow, 0, len(defs))
			for _, def := range defs {
				row := budgetRow{SLO: def.Name}
				state, err := tracker.ComputeBudget(cmd.Context(), def, e.at)
				if err != nil {
					row.Error = err.Error()
				} else {
					row.Budget = &state
				}
				rows = append(rows, row)
			}

			if o.output == "json" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLO\tSLI\tCONSUMED\tREMAINING\tBURN\tEXHAUSTED IN")
			for _, row := range rows {
				if row.Budget == nil {
					fmt.Fprintf(w, "%s\t-\t-\t-\t-\tunavailable: %s\n", row.SLO, row.Error)
					continue
				}
				b := row.Budget
				fmt.Fprintf(w, "%s\t%.5f\t%.2f%%\t%.2f%%\t%.2fx\t%s\n",
					row.SLO, b.SLI, b.DisplayConsumedPercent(), b.RemainingFraction*100, b.BurnRate(), exhaustion(*b))
			}
			return w.Flush()
		},
	}
}

func exhaustion(b budget.State) string {
	if b.Exhausted {
		return "exhausted"
	}
	ttl, ok := b.TimeToExhaustion(b.BurnRate())
	if !ok {
		return "never"
	}
	if ttl < time.Hour {
		return "under 1h"
	}
	return slo.FormatDuration(ttl.Round(time.Hour))
}
