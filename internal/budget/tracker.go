package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// MaxDisplayConsumedPercent caps the consumed percentage shown to humans.
// ConsumedFraction itself is never clamped.
const MaxDisplayConsumedPercent = 999.0

// State is the error budget of one SLO over its rolling compliance window.
// It is recomputed from scratch on every evaluation.
type State struct {
	SLOName              string    `json:"slo"`
	PeriodStart          time.Time `json:"periodStart"`
	PeriodEnd            time.Time `json:"periodEnd"`
	AllowedErrorFraction float64   `json:"allowedErrorFraction"`
	// ConsumedFraction is (1 - SLI) / allowed and may exceed 1
	ConsumedFraction  float64 `json:"consumedFraction"`
	RemainingFraction float64 `json:"remainingFraction"`
	SLI               float64 `json:"sli"`
	Exhausted         bool    `json:"exhausted"`
}

// DisplayConsumedPercent returns the consumed budget in percent, capped for display
func (s State) DisplayConsumedPercent() float64 {
	return math.Min(s.ConsumedFraction*100, MaxDisplayConsumedPercent)
}

// BurnRate is the average burn over the whole compliance window
func (s State) BurnRate() float64 {
	if s.AllowedErrorFraction <= 0 {
		return 0
	}
	return math.Max(0, 1-s.SLI) / s.AllowedErrorFraction
}

// TimeToExhaustion projects how long the remaining budget lasts at burnRate.
// ok is false when the budget is not being spent.
func (s State) TimeToExhaustion(burnRate float64) (time.Duration, bool) {
	if burnRate <= 0 {
		return 0, false
	}
	if s.Exhausted {
		return 0, true
	}
	period := s.PeriodEnd.Sub(s.PeriodStart)
	return time.Duration(math.Round(s.RemainingFraction * float64(slo.TimeToExhaustion(period, burnRate)))), true
}

// Tracker computes error budget state from SLI samples
type Tracker struct {
	evaluator *sli.Evaluator
}

// NewTracker creates a tracker reading through evaluator
func NewTracker(evaluator *sli.Evaluator) *Tracker {
	return &Tracker{evaluator: evaluator}
}

// ComputeBudget evaluates def over [at-ComplianceWindow, at] with a single
// aggregate query. No data is returned as an error, never as a state.
func (t *Tracker) ComputeBudget(ctx context.Context, def slo.Definition, at time.Time) (State, error) {
	sample, err := t.evaluator.Evaluate(ctx, def, def.ComplianceWindow, at)
	if err != nil {
		return State{}, fmt.Errorf("compute budget for %s: %w", def.Name, err)
	}
	return FromSample(def, sample), nil
}

// FromSample derives the budget state of def from a compliance window sample
func FromSample(def slo.Definition, sample sli.Sample) State {
	allowed := def.AllowedErrorFraction()
	consumed := sli.BurnRate(sample.Ratio, def.TargetRatio)

	return State{
		SLOName:              def.Name,
		PeriodStart:          sample.Timestamp.Add(-def.ComplianceWindow),
		PeriodEnd:            sample.Timestamp,
		AllowedErrorFraction: allowed,
		ConsumedFraction:     consumed,
		RemainingFraction:    math.Max(0, 1-consumed),
		SLI:                  sample.Ratio,
		Exhausted:            consumed >= 1,
	}
}
