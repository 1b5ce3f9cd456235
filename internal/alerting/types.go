package alerting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

// State is the lifecycle state of a burn rate alert
type State string

const (
	StatePending  State = "pending"
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

// Key identifies one alert. The rule ID encodes severity, windows and multiplier.
type Key struct {
	SLOName string
	RuleID  string
}

// Alert is the current state of one burn rate rule of one SLO
type Alert struct {
	SLOName         string        `json:"slo"`
	RuleID          string        `json:"rule"`
	RuleIndex       int           `json:"ruleIndex"`
	Severity        slo.Severity  `json:"severity"`
	State           State         `json:"state"`
	ShortWindow     time.Duration `json:"-"`
	LongWindow      time.Duration `json:"-"`
	ShortWindowBurn float64       `json:"shortWindowBurn"`
	LongWindowBurn  float64       `json:"longWindowBurn"`
	Multiplier      float64       `json:"multiplier"`
	FiredAt         time.Time     `json:"firedAt,omitzero"`
	ResolvedAt      time.Time     `json:"resolvedAt,omitzero"`
	LastEvaluatedAt time.Time     `json:"lastEvaluatedAt,omitzero"`
	// HeldReason explains why the last evaluation left the state unchanged
	HeldReason string `json:"heldReason,omitempty"`
}

type alertJSON Alert

type alertWire struct {
	alertJSON
	ShortWindow string `json:"shortWindow"`
	LongWindow  string `json:"longWindow"`
}

// MarshalJSON renders windows in duration-string form ("5m", "1h")
func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertWire{
		alertJSON:   alertJSON(a),
		ShortWindow: slo.FormatDuration(a.ShortWindow),
		LongWindow:  slo.FormatDuration(a.LongWindow),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Alert) UnmarshalJSON(data []byte) error {
	var wire alertWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = Alert(wire.alertJSON)

	var err error
	if wire.ShortWindow != "" {
		if a.ShortWindow, err = slo.ParseDuration(wire.ShortWindow); err != nil {
			return fmt.Errorf("shortWindow: %w", err)
		}
	}
	if wire.LongWindow != "" {
		if a.LongWindow, err = slo.ParseDuration(wire.LongWindow); err != nil {
			return fmt.Errorf("longWindow: %w", err)
		}
	}
	return nil
}

// Key returns the alert's identity
func (a Alert) Key() Key {
	return Key{SLOName: a.SLOName, RuleID: a.RuleID}
}

// NewAlert returns the pending alert for a rule that has never been evaluated
func NewAlert(sloName string, index int, rule slo.BurnRateRule) Alert {
	return Alert{
		SLOName:     sloName,
		RuleID:      rule.ID(),
		RuleIndex:   index,
		Severity:    rule.Severity,
		State:       StatePending,
		ShortWindow: rule.ShortWindow,
		LongWindow:  rule.LongWindow,
		Multiplier:  rule.Multiplier,
	}
}

// Transition is a recorded state change of one alert
type Transition struct {
	SLOName    string       `json:"slo"`
	RuleID     string       `json:"rule"`
	Severity   slo.Severity `json:"severity"`
	From       State        `json:"from"`
	To         State        `json:"to"`
	At         time.Time    `json:"at"`
	ShortBurn  float64      `json:"shortBurn"`
	LongBurn   float64      `json:"longBurn"`
	Multiplier float64      `json:"multiplier"`
}

// Decide applies the multi-window hysteresis to the current state.
// An alert fires only when both windows reach the multiplier and resolves only
// when both drop below it.
func Decide(current State, short, long, multiplier float64) State {
	switch current {
	case StateFiring:
		if short < multiplier && long < multiplier {
			return StateResolved
		}
		return StateFiring
	default:
		if short >= multiplier && long >= multiplier {
			return StateFiring
		}
		return current
	}
}
