package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samijaber1/aegis-budget/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/notify"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

const sloTemplate = `apiVersion: aegis.dev/v1
kind: SLO
metadata:
  name: NAME
  service: checkout
spec:
  target: TARGET
  complianceWindow: 30d
  evaluationInterval: 1m
  indicator:
    good:
      query: good_NAME[{{window}}]
    total:
      query: total_NAME[{{window}}]
  burnRateRules:
    - severity: critical
      shortWindow: 5m
      longWindow: 1h
      multiplier: 14.4
`

var testNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func writeSLO(t *testing.T, dir, name, target string) {
	t.Helper()
	doc := strings.NewReplacer("NAME", name, "TARGET", target).Replace(sloTemplate)
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

type testEnv struct {
	dir       string
	policies  *policy.Store
	backend   *synthetic.Adapter
	engine    *alerting.Engine
	scheduler *Scheduler

	mu     sync.Mutex
	events []notify.Event
}

func (e *testEnv) notified() []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Event(nil), e.events...)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	writeSLO(t, dir, "checkout", "0.999")

	policies, err := policy.NewStore(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := policies.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	env := &testEnv{dir: dir, policies: policies, backend: synthetic.NewAdapter()}
	notifier := notify.NotifierFunc(func(ctx context.Context, event notify.Event) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, event)
		return nil
	})

	evaluator := sli.NewEvaluator(env.backend)
	env.engine = alerting.NewEngine(evaluator, alerting.NewMemoryStore(), notifier, alerting.WithLogger(logger))

	opts = append([]Option{WithLogger(logger), WithJitter(0), WithClock(func() time.Time { return testNow })}, opts...)
	env.scheduler = NewScheduler(policies, budget.NewTracker(evaluator), env.engine, opts...)
	return env
}

func (e *testEnv) def(t *testing.T, name string) slo.Definition {
	t.Helper()
	def, ok := e.policies.Get(name)
	if !ok {
		t.Fatalf("SLO %s not loaded", name)
	}
	return def
}

// burnFast makes the critical rule fire and spends half of the budget
func (e *testEnv) burnFast(def slo.Definition) {
	e.backend.SetWindow(def, 5*time.Minute, 9800, 10000)
	e.backend.SetWindow(def, time.Hour, 9800, 10000)
	e.backend.SetWindow(def, def.ComplianceWindow, 9995, 10000)
}

func TestEvaluateNow(t *testing.T) {
	env := newTestEnv(t)
	def := env.def(t, "checkout")
	env.burnFast(def)

	status, err := env.scheduler.EvaluateNow(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if status.Budget == nil {
		t.Fatal("expected a budget")
	}
	if diff := status.Budget.ConsumedFraction - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected consumed 0.5, got %v", status.Budget.ConsumedFraction)
	}
	if len(status.Alerts) != 1 || status.Alerts[0].State != alerting.StateFiring {
		t.Errorf("expected one firing alert, got %+v", status.Alerts)
	}
	if status.Degraded || status.LastError != "" {
		t.Errorf("expected healthy status, got %+v", status)
	}
	if status.IsStale(testNow) {
		t.Error("expected fresh status")
	}

	if _, err := env.scheduler.EvaluateNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownSLO) {
		t.Errorf("expected ErrUnknownSLO, got %v", err)
	}
}

func TestEvaluateNow_NoData(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.scheduler.EvaluateNow(context.Background(), "checkout")
	if err != nil {
		t.Fatal(err)
	}
	if !status.NoData || !status.Degraded {
		t.Errorf("expected no-data degraded status, got %+v", status)
	}
	if status.Budget != nil {
		t.Errorf("expected no budget, got %+v", status.Budget)
	}
	if !status.IsStale(testNow) {
		t.Error("expected status without a computed budget to be stale")
	}
	if len(status.Alerts) != 1 || status.Alerts[0].HeldReason != "no data" {
		t.Errorf("expected held alert, got %+v", status.Alerts)
	}
}

func TestEvaluateNow_KeepsLastBudget(t *testing.T) {
	env := newTestEnv(t)
	def := env.def(t, "checkout")
	env.burnFast(def)

	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	env.backend.SetError(def.Total.Render(def.ComplianceWindow), errors.New("backend down"))
	status, err := env.scheduler.EvaluateNow(context.Background(), "checkout")
	if err != nil {
		t.Fatal(err)
	}
	if status.Budget == nil {
		t.Fatal("expected the previous budget to be kept")
	}
	if !status.Degraded || status.NoData || !strings.Contains(status.LastError, "backend down") {
		t.Errorf("expected degraded status with the backend error, got %+v", status)
	}
	if !status.LastSuccessAt.Equal(testNow) {
		t.Errorf("expected last success from the first evaluation, got %v", status.LastSuccessAt)
	}
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)
	env.burnFast(env.def(t, "checkout"))

	if err := env.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := env.scheduler.Start(context.Background()); err == nil {
		t.Error("expected second start to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := env.scheduler.Status("checkout"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first evaluation")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.scheduler.Stop()
	env.scheduler.Stop()
}

func TestReload_KeepsAlertStateAndForgetsRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.burnFast(env.def(t, "checkout"))

	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	// Changing the target keeps the rule, so its alert state stays
	writeSLO(t, env.dir, "checkout", "0.998")
	writeSLO(t, env.dir, "search", "0.99")
	if _, err := env.policies.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	alerts, err := env.engine.Alerts(context.Background(), "checkout")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].State != alerting.StateFiring {
		t.Errorf("expected firing alert to survive reload, got %+v", alerts)
	}
	if def := env.def(t, "checkout"); def.TargetRatio != 0.998 {
		t.Errorf("expected new target, got %v", def.TargetRatio)
	}

	// Removing the SLO drops its state and status
	if err := os.Remove(filepath.Join(env.dir, "checkout.yaml")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.policies.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	alerts, err = env.engine.Alerts(context.Background(), "checkout")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected alert state to be dropped, got %+v", alerts)
	}
	if _, ok := env.scheduler.Status("checkout"); ok {
		t.Error("expected status of removed SLO to be dropped")
	}
	if _, err := env.scheduler.EvaluateNow(context.Background(), "search"); err != nil {
		t.Errorf("expected added SLO to be evaluable: %v", err)
	}
}

func TestReload_ResolvesAlertsOfEditedRules(t *testing.T) {
	env := newTestEnv(t)
	env.burnFast(env.def(t, "checkout"))

	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}
	const oldRule = "critical:5m/1h@14.4"

	// Editing the multiplier gives the rule a new identity
	path := filepath.Join(env.dir, "checkout.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(data), "multiplier: 14.4", "multiplier: 10", 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.policies.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	def := env.def(t, "checkout")
	env.backend.SetWindow(def, 5*time.Minute, 9999, 10000)
	env.backend.SetWindow(def, time.Hour, 9999, 10000)
	for i := 0; i < 3; i++ {
		if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
			t.Fatal(err)
		}
	}

	alerts, err := env.engine.Alerts(context.Background(), "checkout")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range alerts {
		if a.RuleID == oldRule {
			t.Errorf("expected alert of the edited rule to be dropped, got %+v", a)
		}
	}

	var fired, resolved int
	for _, e := range env.notified() {
		if e.RuleID != oldRule {
			t.Errorf("unexpected notification for %s", e.RuleID)
			continue
		}
		switch e.State {
		case string(alerting.StateFiring):
			fired++
		case string(alerting.StateResolved):
			resolved++
		}
	}
	if fired != 1 || resolved != 1 {
		t.Errorf("expected one firing and one resolved notification, got %d and %d", fired, resolved)
	}
}

func TestWriteReports(t *testing.T) {
	reportDir := t.TempDir()
	env := newTestEnv(t)
	evaluator := sli.NewEvaluator(env.backend)
	reporter := report.NewReporter(budget.NewTracker(evaluator), evaluator, nil, report.WithTrendStep(0))
	WithReports(reporter, reportDir, report.PeriodWeekly, report.PeriodMonthly)(env.scheduler)

	// No data yet: stale reports are skipped
	env.scheduler.writeReports(context.Background())
	if report.Exists(reportDir, "checkout", report.PeriodWeekly, "2026-W10") {
		t.Fatal("expected stale report to be skipped")
	}

	env.burnFast(env.def(t, "checkout"))
	env.scheduler.writeReports(context.Background())

	for _, want := range []string{"weekly-2026-W10.json", "weekly-2026-W10.md", "monthly-2026-02.json", "monthly-2026-02.md"} {
		if _, err := os.Stat(filepath.Join(reportDir, "checkout", want)); err != nil {
			t.Errorf("expected %s: %v", want, err)
		}
	}
}
