package sqlite

// Schema defines the SQLite database schema. Timestamps are unix milliseconds.
const Schema = `
-- SLO definitions table
CREATE TABLE IF NOT EXISTS slo_definitions (
	name TEXT PRIMARY KEY,
	service TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	target REAL NOT NULL,
	compliance_window TEXT NOT NULL,
	evaluation_interval TEXT NOT NULL,
	version TEXT NOT NULL,
	source_file TEXT NOT NULL DEFAULT '',
	definition_json TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_slo_service ON slo_definitions(service);

-- Budget snapshots, one row per evaluation cycle
CREATE TABLE IF NOT EXISTS budget_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slo_name TEXT NOT NULL,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	allowed_error_fraction REAL NOT NULL,
	consumed_fraction REAL NOT NULL,
	remaining_fraction REAL NOT NULL,
	sli REAL NOT NULL,
	exhausted BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (slo_name) REFERENCES slo_definitions(name)
);

CREATE INDEX IF NOT EXISTS idx_budget_slo_end ON budget_snapshots(slo_name, period_end DESC);

-- Alert transitions, the replay source for reports
CREATE TABLE IF NOT EXISTS alert_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slo_name TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	at INTEGER NOT NULL,
	short_burn REAL NOT NULL,
	long_burn REAL NOT NULL,
	multiplier REAL NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (slo_name) REFERENCES slo_definitions(name)
);

CREATE INDEX IF NOT EXISTS idx_transitions_slo_at ON alert_transitions(slo_name, at);
CREATE INDEX IF NOT EXISTS idx_transitions_severity ON alert_transitions(severity);
`
