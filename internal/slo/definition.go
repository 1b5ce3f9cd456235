package slo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultEvaluationInterval is used when a document omits spec.evaluationInterval.
const DefaultEvaluationInterval = time.Minute

// Severity orders burn rate rules by urgency
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// QueryTemplate is a backend expression that may reference {{window}}
type QueryTemplate string

// Render substitutes every {{window}} placeholder with the window in
// duration-string form ("5m", "1h", "30d").
func (q QueryTemplate) Render(window time.Duration) string {
	return strings.ReplaceAll(string(q), "{{window}}", FormatDuration(window))
}

// BurnRateRule is a compiled multi-window burn rate rule
type BurnRateRule struct {
	Severity    Severity
	ShortWindow time.Duration
	LongWindow  time.Duration
	Multiplier  float64
}

// ID identifies the rule within its SLO. It only depends on the rule's own
// fields so alert state survives reordering of the rule list.
func (r BurnRateRule) ID() string {
	return fmt.Sprintf("%s:%s/%s@%g", r.Severity, FormatDuration(r.ShortWindow), FormatDuration(r.LongWindow), r.Multiplier)
}

// Definition is an immutable, validated SLO ready for evaluation
type Definition struct {
	Name               string
	Service            string
	Owner              string
	Description        string
	Good               QueryTemplate
	Total              QueryTemplate
	TargetRatio        float64
	ComplianceWindow   time.Duration
	EvaluationInterval time.Duration
	Rules              []BurnRateRule
	Version            string
	SourceFile         string
}

// AllowedErrorFraction is the error budget implied by the target
func (d Definition) AllowedErrorFraction() float64 {
	return 1 - d.TargetRatio
}

// Windows returns every distinct rule window, shortest first
func (d Definition) Windows() []time.Duration {
	seen := make(map[time.Duration]struct{})
	var windows []time.Duration
	for _, rule := range d.Rules {
		for _, w := range []time.Duration{rule.ShortWindow, rule.LongWindow} {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			windows = append(windows, w)
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })
	return windows
}

// Compile turns a validated document into a Definition. Callers are expected
// to run the Validator first; Compile only reports what it cannot parse.
func Compile(doc SLOWithFile) (Definition, error) {
	s := doc.SLO
	if s == nil {
		return Definition{}, fmt.Errorf("nil SLO document")
	}

	compliance, err := ParseDuration(s.Spec.ComplianceWindow)
	if err != nil {
		return Definition{}, fmt.Errorf("spec.complianceWindow: %w", err)
	}

	interval := DefaultEvaluationInterval
	if s.Spec.EvaluationInterval != "" {
		interval, err = ParseDuration(s.Spec.EvaluationInterval)
		if err != nil {
			return Definition{}, fmt.Errorf("spec.evaluationInterval: %w", err)
		}
	}

	rules := make([]BurnRateRule, 0, len(s.Spec.BurnRateRules))
	for i, rule := range s.Spec.BurnRateRules {
		short, err := ParseDuration(rule.ShortWindow)
		if err != nil {
			return Definition{}, fmt.Errorf("spec.burnRateRules[%d].shortWindow: %w", i, err)
		}
		long, err := ParseDuration(rule.LongWindow)
		if err != nil {
			return Definition{}, fmt.Errorf("spec.burnRateRules[%d].longWindow: %w", i, err)
		}
		rules = append(rules, BurnRateRule{
			Severity:    Severity(rule.Severity),
			ShortWindow: short,
			LongWindow:  long,
			Multiplier:  rule.Multiplier,
		})
	}

	version, err := documentVersion(s)
	if err != nil {
		return Definition{}, err
	}

	return Definition{
		Name:               s.Metadata.Name,
		Service:            s.Metadata.Service,
		Owner:              s.Metadata.Owner,
		Description:        s.Metadata.Description,
		Good:               QueryTemplate(s.Spec.Indicator.Good.Query),
		Total:              QueryTemplate(s.Spec.Indicator.Total.Query),
		TargetRatio:        s.Spec.Target,
		ComplianceWindow:   compliance,
		EvaluationInterval: interval,
		Rules:              rules,
		Version:            version,
		SourceFile:         doc.File,
	}, nil
}

// documentVersion hashes the canonical JSON form of the document
func documentVersion(s *SLO) (string, error) {
	canonical, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to hash SLO: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:8]), nil
}

// RecommendedRules is the multi-window rule table from the SRE workbook.
// Each multiplier spends a fixed share of a 30 day budget within its long window.
func RecommendedRules() []BurnRateRule {
	return []BurnRateRule{
		{Severity: SeverityCritical, ShortWindow: 5 * time.Minute, LongWindow: time.Hour, Multiplier: 14.4},
		{Severity: SeverityCritical, ShortWindow: 30 * time.Minute, LongWindow: 6 * time.Hour, Multiplier: 6},
		{Severity: SeverityWarning, ShortWindow: 2 * time.Hour, LongWindow: 24 * time.Hour, Multiplier: 3},
		{Severity: SeverityWarning, ShortWindow: 6 * time.Hour, LongWindow: 3 * 24 * time.Hour, Multiplier: 1},
	}
}

// TimeToExhaustion is how long a full budget lasts at the given burn rate
func TimeToExhaustion(compliance time.Duration, burnRate float64) time.Duration {
	if burnRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(compliance) / burnRate))
}
