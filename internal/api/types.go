package api

import (
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/scheduler"
)

// SLOListResponse represents a list of SLOs
type SLOListResponse struct {
	Version uint64            `json:"version"`
	SLOs    []SLOSummary      `json:"slos"`
	Errors  []ConfigErrorInfo `json:"errors,omitempty"`
}

// SLOSummary contains summary information about an SLO
type SLOSummary struct {
	Name               string  `json:"name"`
	Service            string  `json:"service"`
	Owner              string  `json:"owner,omitempty"`
	Target             float64 `json:"target"`
	ComplianceWindow   string  `json:"complianceWindow"`
	EvaluationInterval string  `json:"evaluationInterval"`
	Rules              int     `json:"rules"`
}

// SLODetail is the full compiled definition of an SLO
type SLODetail struct {
	SLOSummary
	Description string     `json:"description,omitempty"`
	Good        string     `json:"good"`
	Total       string     `json:"total"`
	Version     string     `json:"version"`
	SourceFile  string     `json:"sourceFile"`
	BurnRules   []RuleInfo `json:"burnRateRules"`
}

// RuleInfo describes one burn rate rule
type RuleInfo struct {
	ID          string  `json:"id"`
	Severity    string  `json:"severity"`
	ShortWindow string  `json:"shortWindow"`
	LongWindow  string  `json:"longWindow"`
	Multiplier  float64 `json:"multiplier"`
	// TimeToExhaustion is how long a full budget lasts at the multiplier
	TimeToExhaustion string `json:"timeToExhaustion"`
}

// ConfigErrorInfo reports an SLO excluded from evaluation
type ConfigErrorInfo struct {
	File    string `json:"file"`
	SLO     string `json:"slo,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// StatusResponse is the latest status of one SLO
type StatusResponse struct {
	scheduler.Status
	Stale bool `json:"stale"`
	// BudgetConsumedPercent is capped for display; the raw fraction is in budget
	BudgetConsumedPercent *float64 `json:"budgetConsumedPercent,omitempty"`
}

// StatusListResponse lists the status of every evaluated SLO
type StatusListResponse struct {
	Statuses []StatusResponse `json:"statuses"`
}

// AlertsResponse lists stored alerts
type AlertsResponse struct {
	Alerts []alerting.Alert `json:"alerts"`
}

// ReloadResponse summarizes a policy reload
type ReloadResponse struct {
	Version uint64            `json:"version"`
	SLOs    int               `json:"slos"`
	Added   []string          `json:"added"`
	Removed []string          `json:"removed"`
	Changed []string          `json:"changed"`
	Errors  []ConfigErrorInfo `json:"errors,omitempty"`
}

// HistoryResponse is the recorded history of one SLO
type HistoryResponse struct {
	SLO         string                `json:"slo"`
	Budgets     []budget.State        `json:"budgets"`
	Transitions []alerting.Transition `json:"transitions"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready         bool      `json:"ready"`
	SLOsLoaded    int       `json:"slosLoaded"`
	PolicyVersion uint64    `json:"policyVersion"`
	LoadedAt      time.Time `json:"loadedAt,omitzero"`
	Reasons       []string  `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
