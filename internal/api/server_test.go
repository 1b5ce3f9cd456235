package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samijaber1/aegis-budget/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/logging"
	"github.com/samijaber1/aegis-budget/internal/metrics"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/scheduler"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage/sqlite"
)

const checkoutDoc = `apiVersion: aegis.dev/v1
kind: SLO
metadata:
  name: checkout
  service: checkout
  owner: payments
spec:
  target: 0.999
  complianceWindow: 30d
  evaluationInterval: 1m
  indicator:
    good:
      query: sum(rate(http_requests_total{code!~"5.."}[{{window}}]))
    total:
      query: sum(rate(http_requests_total[{{window}}]))
  burnRateRules:
    - severity: critical
      shortWindow: 5m
      longWindow: 1h
      multiplier: 14.4
    - severity: warning
      shortWindow: 2h
      longWindow: 1d
      multiplier: 3
`

var testNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	dir       string
	policies  *policy.Store
	backend   *synthetic.Adapter
	engine    *alerting.Engine
	scheduler *scheduler.Scheduler
	history   *sqlite.Store
	server    *Server
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Discard()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "checkout.yaml"), []byte(checkoutDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	policies, err := policy.NewStore(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := policies.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	history, err := sqlite.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { history.Close() })
	for _, def := range policies.Snapshot().Definitions {
		if err := history.StoreDefinition(def); err != nil {
			t.Fatal(err)
		}
	}

	backend := synthetic.NewAdapter()
	evaluator := sli.NewEvaluator(backend)
	tracker := budget.NewTracker(evaluator)
	engine := alerting.NewEngine(evaluator, alerting.NewMemoryStore(), nil,
		alerting.WithRecorder(history), alerting.WithLogger(logger))

	clock := func() time.Time { return testNow }
	sched := scheduler.NewScheduler(policies, tracker, engine,
		scheduler.WithHistory(history),
		scheduler.WithJitter(0),
		scheduler.WithClock(clock),
		scheduler.WithLogger(logger),
	)
	reporter := report.NewReporter(tracker, evaluator, history, report.WithTrendStep(0), report.WithLogger(logger))

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		t.Fatal(err)
	}

	server := NewServer(":0", policies, sched, engine,
		WithReporter(reporter),
		WithHistory(history),
		WithGatherer(registry),
		WithLogger(logger),
		WithClock(clock),
	)

	return &testEnv{
		dir:       dir,
		policies:  policies,
		backend:   backend,
		engine:    engine,
		scheduler: sched,
		history:   history,
		server:    server,
	}
}

func (e *testEnv) def(t *testing.T) slo.Definition {
	t.Helper()
	def, ok := e.policies.Get("checkout")
	if !ok {
		t.Fatal("checkout not loaded")
	}
	return def
}

// burnFast fires the critical rule and spends half of the budget
func (e *testEnv) burnFast(t *testing.T) {
	def := e.def(t)
	e.backend.SetWindow(def, 5*time.Minute, 9800, 10000)
	e.backend.SetWindow(def, time.Hour, 9800, 10000)
	e.backend.SetWindow(def, 2*time.Hour, 9999, 10000)
	e.backend.SetWindow(def, 24*time.Hour, 9999, 10000)
	e.backend.SetWindow(def, def.ComplianceWindow, 9995, 10000)
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %s", resp.Status)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		removeSLOs     bool
		expectedStatus int
		expectedReady  bool
	}{
		{
			name:           "ready with SLOs",
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "not ready without SLOs",
			removeSLOs:     true,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			if tt.removeSLOs {
				if err := os.Remove(filepath.Join(env.dir, "checkout.yaml")); err != nil {
					t.Fatal(err)
				}
				if _, err := env.policies.Reload(); err != nil {
					t.Fatal(err)
				}
			}

			w := env.do(t, "GET", "/readyz")
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var resp ReadyResponse
			decode(t, w, &resp)
			if resp.Ready != tt.expectedReady {
				t.Errorf("expected ready=%v, got %v", tt.expectedReady, resp.Ready)
			}
		})
	}
}

func TestSLOEndpoints(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/v1/slo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list SLOListResponse
	decode(t, w, &list)
	if len(list.SLOs) != 1 || list.SLOs[0].Name != "checkout" || list.SLOs[0].Rules != 2 {
		t.Errorf("unexpected list: %+v", list)
	}

	w = env.do(t, "GET", "/v1/slo/checkout")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var detail SLODetail
	decode(t, w, &detail)
	if detail.ComplianceWindow != "30d" || detail.Target != 0.999 {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if len(detail.BurnRules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(detail.BurnRules))
	}
	critical := detail.BurnRules[0]
	if critical.ID != "critical:5m/1h@14.4" || critical.ShortWindow != "5m" {
		t.Errorf("unexpected rule: %+v", critical)
	}
	// 30 days at 14.4x lasts 50 hours
	if critical.TimeToExhaustion != "50h" {
		t.Errorf("expected 50h to exhaustion, got %s", critical.TimeToExhaustion)
	}

	if w := env.do(t, "GET", "/v1/slo/missing"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestEvaluateAndStatus(t *testing.T) {
	env := setupTestServer(t)
	env.burnFast(t)

	if w := env.do(t, "GET", "/v1/status/checkout"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the first evaluation, got %d", w.Code)
	}

	w := env.do(t, "POST", "/v1/evaluate/checkout")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var status StatusResponse
	decode(t, w, &status)
	if status.Stale || status.Degraded {
		t.Errorf("expected fresh healthy status, got %+v", status)
	}
	if status.BudgetConsumedPercent == nil || *status.BudgetConsumedPercent < 49.99 || *status.BudgetConsumedPercent > 50.01 {
		t.Errorf("expected 50%% consumed, got %v", status.BudgetConsumedPercent)
	}
	if len(status.Alerts) != 2 || status.Alerts[0].State != alerting.StateFiring || status.Alerts[1].State != alerting.StatePending {
		t.Errorf("unexpected alerts: %+v", status.Alerts)
	}

	w = env.do(t, "GET", "/v1/status")
	var list StatusListResponse
	decode(t, w, &list)
	if len(list.Statuses) != 1 || list.Statuses[0].SLOName != "checkout" {
		t.Errorf("unexpected statuses: %+v", list)
	}

	if w := env.do(t, "POST", "/v1/evaluate/missing"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown SLO, got %d", w.Code)
	}
}

func TestStatus_NoDataIsStale(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/v1/evaluate/checkout")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var status StatusResponse
	decode(t, w, &status)
	if !status.Stale || !status.NoData || status.Budget != nil {
		t.Errorf("expected stale no-data status, got %+v", status)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.burnFast(t)
	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query    string
		expected int
	}{
		{"", 1},
		{"?slo=checkout", 1},
		{"?severity=critical", 1},
		{"?severity=warning", 0},
		{"?state=firing", 1},
		{"?slo=other", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, "GET", "/v1/alerts"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}
			var resp AlertsResponse
			decode(t, w, &resp)
			if len(resp.Alerts) != tt.expected {
				t.Errorf("expected %d alerts, got %+v", tt.expected, resp.Alerts)
			}
		})
	}
}

func TestReloadEndpoint(t *testing.T) {
	env := setupTestServer(t)

	search := strings.ReplaceAll(checkoutDoc, "name: checkout", "name: search")
	if err := os.WriteFile(filepath.Join(env.dir, "search.yaml"), []byte(search), 0o644); err != nil {
		t.Fatal(err)
	}
	broken := strings.ReplaceAll(strings.ReplaceAll(checkoutDoc, "name: checkout", "name: broken"), "0.999", "1.5")
	if err := os.WriteFile(filepath.Join(env.dir, "broken.yaml"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "POST", "/v1/reload")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ReloadResponse
	decode(t, w, &resp)
	if resp.SLOs != 2 || len(resp.Added) != 1 || resp.Added[0] != "search" {
		t.Errorf("unexpected reload result: %+v", resp)
	}
	if len(resp.Errors) == 0 || resp.Errors[0].SLO != "broken" {
		t.Errorf("expected broken SLO reported, got %+v", resp.Errors)
	}

	if err := os.RemoveAll(env.dir); err != nil {
		t.Fatal(err)
	}
	if w := env.do(t, "POST", "/v1/reload"); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for missing policy path, got %d", w.Code)
	}
	if _, ok := env.policies.Get("search"); !ok {
		t.Error("expected previous snapshot to stay active")
	}
}

func TestReportEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.burnFast(t)
	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/v1/report/checkout?period=weekly&at=2026-03-16T12:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep report.Report
	decode(t, w, &rep)
	if rep.Label != "2026-W11" || rep.Stale {
		t.Errorf("unexpected report: %+v", rep)
	}
	// The critical alert fired on Mar 11 and is still firing at the end of W11
	if len(rep.Incidents) != 1 || rep.Incidents[0].State != alerting.StateFiring {
		t.Errorf("expected one open incident, got %+v", rep.Incidents)
	}

	w = env.do(t, "GET", "/v1/report/checkout?period=monthly&format=markdown")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "# Monthly report: checkout (2026-02)") {
		t.Errorf("unexpected markdown:\n%s", w.Body.String())
	}

	if w := env.do(t, "GET", "/v1/report/checkout?period=daily"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown period, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/v1/report/checkout?at=yesterday"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad time, got %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.burnFast(t)
	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/v1/history/checkout")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp HistoryResponse
	decode(t, w, &resp)
	if len(resp.Budgets) != 1 || resp.Budgets[0].SLOName != "checkout" {
		t.Errorf("expected one recorded budget, got %+v", resp.Budgets)
	}
	if len(resp.Transitions) != 1 || resp.Transitions[0].To != alerting.StateFiring {
		t.Errorf("expected one firing transition, got %+v", resp.Transitions)
	}

	w = env.do(t, "GET", "/v1/history/checkout?severity=warning")
	decode(t, w, &resp)
	if len(resp.Transitions) != 0 {
		t.Errorf("expected no warning transitions, got %+v", resp.Transitions)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.burnFast(t)
	if _, err := env.scheduler.EvaluateNow(context.Background(), "checkout"); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "aegis_evaluations_total") {
		t.Error("expected aegis metrics to be exposed")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		path   string
		method string
	}{
		{"/healthz", "POST"},
		{"/readyz", "POST"},
		{"/v1/slo", "POST"},
		{"/v1/reload", "GET"},
		{"/v1/evaluate/checkout", "GET"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", w.Code)
			}
		})
	}
}
