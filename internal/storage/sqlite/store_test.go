package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := NewStore(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}

	return store, cleanup
}

func testDefinition(name string) slo.Definition {
	return slo.Definition{
		Name:               name,
		Service:            "checkout",
		Owner:              "payments-team",
		Good:               "good[{{window}}]",
		Total:              "total[{{window}}]",
		TargetRatio:        0.999,
		ComplianceWindow:   30 * 24 * time.Hour,
		EvaluationInterval: time.Minute,
		Rules:              slo.RecommendedRules(),
		Version:            "abc123",
		SourceFile:         "checkout.yaml",
	}
}

func TestStoreDefinition(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	def := testDefinition("checkout-availability")
	if err := store.StoreDefinition(def); err != nil {
		t.Fatalf("failed to store definition: %v", err)
	}

	got, err := store.GetDefinition("checkout-availability")
	if err != nil {
		t.Fatalf("failed to get definition: %v", err)
	}
	if got == nil {
		t.Fatal("expected definition, got nil")
	}
	if got.Version != "abc123" || len(got.Rules) != 4 || got.ComplianceWindow != def.ComplianceWindow {
		t.Errorf("unexpected definition: %+v", got)
	}

	// Upsert replaces the stored copy
	def.Version = "def456"
	if err := store.StoreDefinition(def); err != nil {
		t.Fatalf("failed to update definition: %v", err)
	}
	got, err = store.GetDefinition("checkout-availability")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "def456" {
		t.Errorf("expected updated version, got %s", got.Version)
	}

	missing, err := store.GetDefinition("unknown")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown SLO, got %+v", missing)
	}
}

func TestRecordBudget_RequiresDefinition(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.RecordBudget(budget.State{SLOName: "unknown", PeriodEnd: time.Now()})
	if err == nil {
		t.Error("expected foreign key violation for unknown SLO")
	}
}

func TestForeignKeysOnEveryConnection(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Hold one pooled connection so the insert runs on another
	conn, err := store.db.Conn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var enabled int
	if err := conn.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatal(err)
	}
	if enabled != 1 {
		t.Errorf("expected foreign keys on the held connection, got %d", enabled)
	}

	if err := store.RecordBudget(budget.State{SLOName: "unknown", PeriodEnd: time.Now()}); err == nil {
		t.Error("expected foreign key violation on a second connection")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"history.db", "history.db?_foreign_keys=on"},
		{"file:history.db?cache=shared", "file:history.db?cache=shared&_foreign_keys=on"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestBudgetHistory(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.StoreDefinition(testDefinition("checkout-availability")); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		end := base.Add(time.Duration(i) * time.Hour)
		state := budget.State{
			SLOName:              "checkout-availability",
			PeriodStart:          end.Add(-30 * 24 * time.Hour),
			PeriodEnd:            end,
			AllowedErrorFraction: 0.001,
			ConsumedFraction:     0.1 * float64(i+1),
			RemainingFraction:    1 - 0.1*float64(i+1),
			SLI:                  0.9999,
		}
		if err := store.RecordBudget(state); err != nil {
			t.Fatalf("failed to record budget: %v", err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		states, err := store.QueryBudgets(storage.HistoryFilter{SLOName: "checkout-availability"})
		if err != nil {
			t.Fatal(err)
		}
		if len(states) != 5 {
			t.Fatalf("expected 5 states, got %d", len(states))
		}
		if !states[0].PeriodEnd.Equal(base.Add(4 * time.Hour)) {
			t.Errorf("expected newest first, got %v", states[0].PeriodEnd)
		}
	})

	t.Run("time range and limit", func(t *testing.T) {
		start := base.Add(time.Hour)
		end := base.Add(3 * time.Hour)
		states, err := store.QueryBudgets(storage.HistoryFilter{
			SLOName:   "checkout-availability",
			StartTime: &start,
			EndTime:   &end,
			Limit:     2,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(states) != 2 {
			t.Fatalf("expected 2 states, got %d", len(states))
		}
		if !states[1].PeriodEnd.Equal(base.Add(2 * time.Hour)) {
			t.Errorf("unexpected second state: %v", states[1].PeriodEnd)
		}
	})

	t.Run("latest at", func(t *testing.T) {
		latest, err := store.LatestBudget("checkout-availability", base.Add(150*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if latest == nil {
			t.Fatal("expected a budget state")
		}
		if !latest.PeriodEnd.Equal(base.Add(2 * time.Hour)) {
			t.Errorf("expected state at +2h, got %v", latest.PeriodEnd)
		}
		if latest.ConsumedFraction < 0.29 || latest.ConsumedFraction > 0.31 {
			t.Errorf("expected consumed 0.3, got %v", latest.ConsumedFraction)
		}

		none, err := store.LatestBudget("checkout-availability", base.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if none != nil {
			t.Errorf("expected no state before the first record, got %+v", none)
		}
	})
}

func TestTransitionHistory(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.StoreDefinition(testDefinition("checkout-availability")); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	transitions := []alerting.Transition{
		{SLOName: "checkout-availability", RuleID: "critical:5m/1h@14.4", Severity: slo.SeverityCritical, From: alerting.StatePending, To: alerting.StateFiring, At: base, ShortBurn: 20, LongBurn: 16, Multiplier: 14.4},
		{SLOName: "checkout-availability", RuleID: "warning:2h/1d@3", Severity: slo.SeverityWarning, From: alerting.StatePending, To: alerting.StateFiring, At: base.Add(10 * time.Minute), ShortBurn: 5, LongBurn: 4, Multiplier: 3},
		{SLOName: "checkout-availability", RuleID: "critical:5m/1h@14.4", Severity: slo.SeverityCritical, From: alerting.StateFiring, To: alerting.StateResolved, At: base.Add(time.Hour), ShortBurn: 1, LongBurn: 2, Multiplier: 14.4},
	}
	// Insert out of order; queries come back chronological
	for _, i := range []int{2, 0, 1} {
		if err := store.RecordTransition(transitions[i]); err != nil {
			t.Fatalf("failed to record transition: %v", err)
		}
	}

	got, err := store.QueryTransitions(storage.HistoryFilter{SLOName: "checkout-availability"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
	for i := range transitions {
		if got[i].RuleID != transitions[i].RuleID || !got[i].At.Equal(transitions[i].At) || got[i].To != transitions[i].To {
			t.Errorf("transition %d: expected %+v, got %+v", i, transitions[i], got[i])
		}
	}

	critical, err := store.QueryTransitions(storage.HistoryFilter{Severity: "critical"})
	if err != nil {
		t.Fatal(err)
	}
	if len(critical) != 2 {
		t.Errorf("expected 2 critical transitions, got %d", len(critical))
	}

	end := base.Add(30 * time.Minute)
	early, err := store.QueryTransitions(storage.HistoryFilter{SLOName: "checkout-availability", EndTime: &end})
	if err != nil {
		t.Fatal(err)
	}
	if len(early) != 2 {
		t.Errorf("expected 2 transitions before +30m, got %d", len(early))
	}

	paged, err := store.QueryTransitions(storage.HistoryFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].RuleID != "warning:2h/1d@3" {
		t.Errorf("unexpected page: %+v", paged)
	}
}
