package storage

import (
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// HistoryStorage persists what the engine decided so reports can replay it
type HistoryStorage interface {
	// StoreDefinition persists an SLO definition
	StoreDefinition(def slo.Definition) error

	// GetDefinition retrieves the last stored definition of an SLO
	GetDefinition(name string) (*slo.Definition, error)

	// RecordBudget persists one computed budget state
	RecordBudget(state budget.State) error

	// RecordTransition persists one alert state transition
	RecordTransition(t alerting.Transition) error

	// QueryTransitions retrieves transitions in chronological order
	QueryTransitions(filter HistoryFilter) ([]alerting.Transition, error)

	// QueryBudgets retrieves budget states, newest first
	QueryBudgets(filter HistoryFilter) ([]budget.State, error)

	// LatestBudget retrieves the newest budget state recorded at or before at
	LatestBudget(sloName string, at time.Time) (*budget.State, error)

	// Close closes the storage connection
	Close() error
}

// HistoryFilter defines filtering options for history queries
type HistoryFilter struct {
	SLOName   string
	Severity  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
