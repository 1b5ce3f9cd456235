package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage"
)

// DefaultTrendStep is the width of one trend point
const DefaultTrendStep = 24 * time.Hour

// TransitionSource is the alert history a report replays
type TransitionSource interface {
	QueryTransitions(filter storage.HistoryFilter) ([]alerting.Transition, error)
}

// TrendPoint is the SLI over the step ending at Timestamp
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	SLI       float64   `json:"sli"`
	BurnRate  float64   `json:"burnRate"`
}

// Report summarizes one SLO over one closed period
type Report struct {
	SLOName     string    `json:"slo"`
	Service     string    `json:"service"`
	Period      Period    `json:"period"`
	Label       string    `json:"label"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Target      float64   `json:"target"`

	BudgetConsumedFractionAtPeriodEnd float64       `json:"budgetConsumedFractionAtPeriodEnd"`
	Budget                            *budget.State `json:"budget,omitempty"`

	// Stale is set when the budget at period end could not be computed
	Stale       bool   `json:"stale"`
	StaleReason string `json:"staleReason,omitempty"`

	Incidents   []alerting.Alert `json:"incidents"`
	Trend       []TrendPoint     `json:"trend,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// Reporter builds period reports. It only reads state.
type Reporter struct {
	tracker   *budget.Tracker
	evaluator *sli.Evaluator
	history   TransitionSource
	trendStep time.Duration
	logger    *slog.Logger
}

// Option configures a Reporter
type Option func(*Reporter)

// WithTrendStep sets the trend resolution; zero disables the trend
func WithTrendStep(step time.Duration) Option {
	return func(r *Reporter) { r.trendStep = step }
}

// WithLogger sets the reporter logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// NewReporter creates a reporter. history may be nil, in which case reports
// carry no incidents.
func NewReporter(tracker *budget.Tracker, evaluator *sli.Evaluator, history TransitionSource, opts ...Option) *Reporter {
	r := &Reporter{
		tracker:   tracker,
		evaluator: evaluator,
		history:   history,
		trendStep: DefaultTrendStep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summarize reports on the last period of the given length closed at or before at
func (r *Reporter) Summarize(ctx context.Context, def slo.Definition, period Period, at time.Time) (Report, error) {
	start, end := period.LastClosed(at)

	rep := Report{
		SLOName:     def.Name,
		Service:     def.Service,
		Period:      period,
		Label:       period.Label(start),
		PeriodStart: start,
		PeriodEnd:   end,
		Target:      def.TargetRatio,
		Incidents:   []alerting.Alert{},
		GeneratedAt: at.UTC(),
	}

	state, err := r.tracker.ComputeBudget(ctx, def, end)
	if err != nil {
		rep.Stale = true
		rep.StaleReason = err.Error()
		r.logger.Warn("report budget unavailable", "slo", def.Name, "period", rep.Label, "err", err)
	} else {
		rep.Budget = &state
		rep.BudgetConsumedFractionAtPeriodEnd = state.ConsumedFraction
	}

	if r.history != nil {
		incidents, err := r.incidents(def, start, end)
		if err != nil {
			return Report{}, fmt.Errorf("replay alert history for %s: %w", def.Name, err)
		}
		rep.Incidents = incidents
	}

	if r.trendStep > 0 {
		samples, err := r.evaluator.Series(ctx, def, r.trendStep, start.Add(r.trendStep), end)
		if err != nil {
			r.logger.Warn("report trend unavailable", "slo", def.Name, "period", rep.Label, "err", err)
		}
		for _, s := range samples {
			rep.Trend = append(rep.Trend, TrendPoint{
				Timestamp: s.Timestamp,
				SLI:       s.Ratio,
				BurnRate:  sli.BurnRate(s.Ratio, def.TargetRatio),
			})
		}
	}

	return rep, nil
}

// incidents replays every transition up to end and keeps the alerts that
// fired during [start, end) or were still firing when it began
func (r *Reporter) incidents(def slo.Definition, start, end time.Time) ([]alerting.Alert, error) {
	transitions, err := r.history.QueryTransitions(storage.HistoryFilter{
		SLOName: def.Name,
		EndTime: &end,
	})
	if err != nil {
		return nil, err
	}

	rules := make(map[string]int, len(def.Rules))
	for i, rule := range def.Rules {
		rules[rule.ID()] = i
	}

	open := make(map[string]*alerting.Alert)
	incidents := []alerting.Alert{}
	for _, t := range transitions {
		if !t.At.Before(end) {
			break
		}
		switch t.To {
		case alerting.StateFiring:
			open[t.RuleID] = newIncident(def, rules, t)
		case alerting.StateResolved:
			alert, ok := open[t.RuleID]
			if !ok {
				continue
			}
			delete(open, t.RuleID)
			if t.At.Before(start) {
				continue
			}
			alert.State = alerting.StateResolved
			alert.ResolvedAt = t.At
			incidents = append(incidents, *alert)
		}
	}
	for _, alert := range open {
		incidents = append(incidents, *alert)
	}

	sort.Slice(incidents, func(i, j int) bool {
		if !incidents[i].FiredAt.Equal(incidents[j].FiredAt) {
			return incidents[i].FiredAt.Before(incidents[j].FiredAt)
		}
		return incidents[i].RuleID < incidents[j].RuleID
	})
	return incidents, nil
}

func newIncident(def slo.Definition, rules map[string]int, t alerting.Transition) *alerting.Alert {
	alert := &alerting.Alert{
		SLOName:         t.SLOName,
		RuleID:          t.RuleID,
		RuleIndex:       -1,
		Severity:        t.Severity,
		State:           alerting.StateFiring,
		ShortWindowBurn: t.ShortBurn,
		LongWindowBurn:  t.LongBurn,
		Multiplier:      t.Multiplier,
		FiredAt:         t.At,
	}
	if i, ok := rules[t.RuleID]; ok {
		alert.RuleIndex = i
		alert.ShortWindow = def.Rules[i].ShortWindow
		alert.LongWindow = def.Rules[i].LongWindow
	}
	return alert
}
