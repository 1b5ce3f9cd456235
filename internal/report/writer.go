package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

func WriteJSON(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func WriteMarkdown(path string, rep Report) error {
	return os.WriteFile(path, []byte(RenderMarkdown(rep)), 0644)
}

// WriteFiles writes <dir>/<slo>/<period>-<label>.json and .md and returns both paths
func WriteFiles(dir string, rep Report) (string, string, error) {
	sloDir := filepath.Join(dir, rep.SLOName)
	if err := os.MkdirAll(sloDir, 0755); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}

	base := filepath.Join(sloDir, fmt.Sprintf("%s-%s", rep.Period, rep.Label))
	jsonPath := base + ".json"
	mdPath := base + ".md"

	if err := WriteJSON(jsonPath, rep); err != nil {
		return "", "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	if err := WriteMarkdown(mdPath, rep); err != nil {
		return "", "", fmt.Errorf("write %s: %w", mdPath, err)
	}
	return jsonPath, mdPath, nil
}

// Exists reports whether the files for rep's period were already written
func Exists(dir, sloName string, period Period, label string) bool {
	_, err := os.Stat(filepath.Join(dir, sloName, fmt.Sprintf("%s-%s.json", period, label)))
	return err == nil
}

func RenderMarkdown(rep Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s report: %s (%s)\n\n", cases.Title(language.English).String(string(rep.Period)), rep.SLOName, rep.Label)
	fmt.Fprintf(&b, "- Service: %s\n", rep.Service)
	fmt.Fprintf(&b, "- Period: %s to %s\n", rep.PeriodStart.Format(time.RFC3339), rep.PeriodEnd.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Target: %.4f\n", rep.Target)

	if rep.Stale || rep.Budget == nil {
		fmt.Fprintf(&b, "- Budget: unavailable (stale)\n")
		if rep.StaleReason != "" {
			fmt.Fprintf(&b, "- Reason: %s\n", rep.StaleReason)
		}
	} else {
		fmt.Fprintf(&b, "- SLI at period end: %.5f\n", rep.Budget.SLI)
		fmt.Fprintf(&b, "- Budget consumed: %.2f%%\n", rep.Budget.DisplayConsumedPercent())
		fmt.Fprintf(&b, "- Budget remaining: %.2f%%\n", rep.Budget.RemainingFraction*100)
		if rep.Budget.Exhausted {
			fmt.Fprintf(&b, "- Status: exhausted\n")
		}
	}

	fmt.Fprintf(&b, "\n## Incidents\n\n")
	if len(rep.Incidents) == 0 {
		fmt.Fprintf(&b, "No burn rate alerts fired.\n")
	} else {
		fmt.Fprintf(&b, "| Severity | Rule | Fired | Resolved | Short burn | Long burn | Multiplier |\n")
		fmt.Fprintf(&b, "| --- | --- | --- | --- | --- | --- | --- |\n")
		for _, inc := range rep.Incidents {
			resolved := "still firing"
			if !inc.ResolvedAt.IsZero() {
				resolved = inc.ResolvedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %.2f | %.2f | %g |\n",
				inc.Severity, inc.RuleID, inc.FiredAt.Format(time.RFC3339), resolved,
				inc.ShortWindowBurn, inc.LongWindowBurn, inc.Multiplier)
		}
	}

	if len(rep.Trend) > 0 {
		fmt.Fprintf(&b, "\n## Trend\n\n")
		fmt.Fprintf(&b, "| Day ending | SLI | Burn rate |\n")
		fmt.Fprintf(&b, "| --- | --- | --- |\n")
		for _, p := range rep.Trend {
			fmt.Fprintf(&b, "| %s | %.5f | %.2f |\n", p.Timestamp.Format("2006-01-02"), p.SLI, p.BurnRate)
		}
	}

	if rep.Budget != nil && !rep.Stale {
		if ttl, ok := rep.Budget.TimeToExhaustion(rep.Budget.BurnRate()); ok && !rep.Budget.Exhausted {
			lasts := "under 1h"
			if ttl >= time.Hour {
				lasts = slo.FormatDuration(ttl.Round(time.Hour))
			}
			fmt.Fprintf(&b, "\nAt the compliance window's average burn rate (%.2fx) the remaining budget lasts %s.\n",
				rep.Budget.BurnRate(), lasts)
		}
	}

	return b.String()
}

