package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage"
)

// Store implements HistoryStorage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	// Foreign keys are enabled per connection, so they go in the DSN
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_foreign_keys=on"
}

// StoreDefinition persists an SLO definition
func (s *Store) StoreDefinition(def slo.Definition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO slo_definitions (name, service, owner, target, compliance_window, evaluation_interval, version, source_file, definition_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			service = excluded.service,
			owner = excluded.owner,
			target = excluded.target,
			compliance_window = excluded.compliance_window,
			evaluation_interval = excluded.evaluation_interval,
			version = excluded.version,
			source_file = excluded.source_file,
			definition_json = excluded.definition_json,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.Exec(query,
		def.Name,
		def.Service,
		def.Owner,
		def.TargetRatio,
		slo.FormatDuration(def.ComplianceWindow),
		slo.FormatDuration(def.EvaluationInterval),
		def.Version,
		def.SourceFile,
		string(defJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store SLO definition: %w", err)
	}

	return nil
}

// GetDefinition retrieves the last stored definition of an SLO
func (s *Store) GetDefinition(name string) (*slo.Definition, error) {
	var defJSON string
	err := s.db.QueryRow("SELECT definition_json FROM slo_definitions WHERE name = ?", name).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get SLO definition: %w", err)
	}

	var def slo.Definition
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &def, nil
}

// RecordBudget persists one computed budget state
func (s *Store) RecordBudget(state budget.State) error {
	query := `
		INSERT INTO budget_snapshots (
			slo_name, period_start, period_end, allowed_error_fraction,
			consumed_fraction, remaining_fraction, sli, exhausted
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		state.SLOName,
		toMillis(state.PeriodStart),
		toMillis(state.PeriodEnd),
		state.AllowedErrorFraction,
		state.ConsumedFraction,
		state.RemainingFraction,
		state.SLI,
		state.Exhausted,
	)
	if err != nil {
		return fmt.Errorf("failed to store budget: %w", err)
	}

	return nil
}

// RecordTransition persists one alert state transition
func (s *Store) RecordTransition(t alerting.Transition) error {
	query := `
		INSERT INTO alert_transitions (
			slo_name, rule_id, severity, from_state, to_state, at, short_burn, long_burn, multiplier
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		t.SLOName,
		t.RuleID,
		string(t.Severity),
		string(t.From),
		string(t.To),
		toMillis(t.At),
		t.ShortBurn,
		t.LongBurn,
		t.Multiplier,
	)
	if err != nil {
		return fmt.Errorf("failed to store transition: %w", err)
	}

	return nil
}

// QueryTransitions retrieves transitions in chronological order. A zero
// limit returns every match so reports can replay a whole period.
func (s *Store) QueryTransitions(filter storage.HistoryFilter) ([]alerting.Transition, error) {
	query := `
		SELECT slo_name, rule_id, severity, from_state, to_state, at, short_burn, long_burn, multiplier
		FROM alert_transitions
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SLOName != "" {
		query += " AND slo_name = ?"
		args = append(args, filter.SLOName)
	}

	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}

	if filter.StartTime != nil {
		query += " AND at >= ?"
		args = append(args, toMillis(*filter.StartTime))
	}

	if filter.EndTime != nil {
		query += " AND at <= ?"
		args = append(args, toMillis(*filter.EndTime))
	}

	query += " ORDER BY at ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []alerting.Transition
	for rows.Next() {
		var t alerting.Transition
		var severity, from, to string
		var at int64

		err := rows.Scan(
			&t.SLOName,
			&t.RuleID,
			&severity,
			&from,
			&to,
			&at,
			&t.ShortBurn,
			&t.LongBurn,
			&t.Multiplier,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.Severity = slo.Severity(severity)
		t.From = alerting.State(from)
		t.To = alerting.State(to)
		t.At = fromMillis(at)
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return transitions, nil
}

// QueryBudgets retrieves budget states, newest first
func (s *Store) QueryBudgets(filter storage.HistoryFilter) ([]budget.State, error) {
	query := `
		SELECT slo_name, period_start, period_end, allowed_error_fraction,
		       consumed_fraction, remaining_fraction, sli, exhausted
		FROM budget_snapshots
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SLOName != "" {
		query += " AND slo_name = ?"
		args = append(args, filter.SLOName)
	}

	if filter.StartTime != nil {
		query += " AND period_end >= ?"
		args = append(args, toMillis(*filter.StartTime))
	}

	if filter.EndTime != nil {
		query += " AND period_end <= ?"
		args = append(args, toMillis(*filter.EndTime))
	}

	query += " ORDER BY period_end DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100" // Default limit
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var states []budget.State
	for rows.Next() {
		state, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return states, nil
}

// LatestBudget retrieves the newest budget state recorded at or before at
func (s *Store) LatestBudget(sloName string, at time.Time) (*budget.State, error) {
	query := `
		SELECT slo_name, period_start, period_end, allowed_error_fraction,
		       consumed_fraction, remaining_fraction, sli, exhausted
		FROM budget_snapshots
		WHERE slo_name = ? AND period_end <= ?
		ORDER BY period_end DESC, id DESC
		LIMIT 1
	`

	state, err := scanBudget(s.db.QueryRow(query, sloName, toMillis(at)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBudget(row scanner) (budget.State, error) {
	var state budget.State
	var start, end int64

	err := row.Scan(
		&state.SLOName,
		&start,
		&end,
		&state.AllowedErrorFraction,
		&state.ConsumedFraction,
		&state.RemainingFraction,
		&state.SLI,
		&state.Exhausted,
	)
	if err == sql.ErrNoRows {
		return state, err
	}
	if err != nil {
		return state, fmt.Errorf("failed to scan budget: %w", err)
	}

	state.PeriodStart = fromMillis(start)
	state.PeriodEnd = fromMillis(end)
	return state, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
