package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/storage/sqlite"
)

func newReportCommand(o *globalOptions) *cobra.Command {
	var (
		period string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the last closed weekly or monthly period of an SLO",
		Long: `Builds the report of the last period that closed before --at. Incidents
are replayed from the history database when history.path is configured.
With --out the JSON and Markdown files are written to <out>/<slo>/;
otherwise the report is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.sloName == "" {
				return errors.New("--slo is required")
			}
			p, err := report.ParsePeriod(period)
			if err != nil {
				return err
			}

			e, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			def, ok := e.policies.Get(o.sloName)
			if !ok {
				return fmt.Errorf("SLO not found: %s", o.sloName)
			}

			var history report.TransitionSource
			if e.cfg.History.Path != "" {
				store, err := sqlite.NewStore(e.cfg.History.Path)
				if err != nil {
					return fmt.Errorf("open history: %w", err)
				}
				defer store.Close()
				history = store
			}

			reporter := report.NewReporter(budget.NewTracker(e.evaluator), e.evaluator, history,
				report.WithTrendStep(e.cfg.Report.TrendStep),
				report.WithLogger(e.logger),
			)
			rep, err := reporter.Summarize(cmd.Context(), def, p, e.at)
			if err != nil {
				return err
			}

			if outDir != "" {
				jsonPath, mdPath, err := report.WriteFiles(outDir, rep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", jsonPath, mdPath)
				return nil
			}

			if o.output == "json" {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(rep))
			return err
		},
	}
	cmd.Flags().StringVar(&period, "period", string(report.PeriodWeekly), "Report period (weekly|monthly)")
	cmd.Flags().StringVar(&outDir, "out", "", "Write report files to this directory")
	return cmd
}
