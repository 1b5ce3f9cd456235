package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/scheduler"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	policies  *policy.Store
	scheduler *scheduler.Scheduler
	engine    *alerting.Engine
	reporter  *report.Reporter
	history   storage.HistoryStorage
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	now       func() time.Time

	handler http.Handler
	server  *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithReporter serves on-demand reports
func WithReporter(r *report.Reporter) Option {
	return func(s *Server) { s.reporter = r }
}

// WithHistory serves recorded budgets and transitions
func WithHistory(h storage.HistoryStorage) Option {
	return func(s *Server) { s.history = h }
}

// WithGatherer serves g on /metrics instead of the default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new API server
func NewServer(addr string, policies *policy.Store, sched *scheduler.Scheduler, engine *alerting.Engine, opts ...Option) *Server {
	s := &Server{
		policies:  policies,
		scheduler: sched,
		engine:    engine,
		gatherer:  prometheus.DefaultGatherer,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// SLO endpoints
	mux.HandleFunc("GET /v1/slo", s.handleSLOList)
	mux.HandleFunc("GET /v1/slo/{name}", s.handleSLOGet)
	mux.HandleFunc("POST /v1/reload", s.handleReload)

	// Evaluation endpoints
	mux.HandleFunc("GET /v1/status", s.handleStatusList)
	mux.HandleFunc("GET /v1/status/{name}", s.handleStatusGet)
	mux.HandleFunc("POST /v1/evaluate/{name}", s.handleEvaluate)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)

	// Reporting endpoints
	mux.HandleFunc("GET /v1/report/{name}", s.handleReport)
	mux.HandleFunc("GET /v1/history/{name}", s.handleHistory)

	s.handler = s.loggingMiddleware(mux)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz. The service is ready once a policy has
// been loaded with at least one valid SLO.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := s.policies.Snapshot()

	resp := ReadyResponse{Reasons: []string{}}
	if snap == nil {
		resp.Reasons = append(resp.Reasons, "policy not loaded")
	} else {
		resp.SLOsLoaded = len(snap.Definitions)
		resp.PolicyVersion = snap.Version
		resp.LoadedAt = snap.LoadedAt
		if len(snap.Definitions) == 0 {
			resp.Reasons = append(resp.Reasons, "no SLOs loaded")
		}
		if len(snap.Errors) > 0 {
			resp.Reasons = append(resp.Reasons, fmt.Sprintf("%d SLO documents excluded", len(snap.Errors)))
		}
	}
	if s.scheduler.Cache().Size() == 0 {
		resp.Reasons = append(resp.Reasons, "no evaluations cached yet")
	}
	resp.Ready = resp.SLOsLoaded > 0

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleSLOList handles GET /v1/slo
func (s *Server) handleSLOList(w http.ResponseWriter, r *http.Request) {
	snap := s.policies.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "policy not loaded")
		return
	}

	resp := SLOListResponse{
		Version: snap.Version,
		SLOs:    make([]SLOSummary, 0, len(snap.Definitions)),
		Errors:  configErrors(snap.Errors),
	}
	for _, def := range snap.Definitions {
		resp.SLOs = append(resp.SLOs, summarize(def))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSLOGet handles GET /v1/slo/{name}
func (s *Server) handleSLOGet(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}

	detail := SLODetail{
		SLOSummary:  summarize(def),
		Description: def.Description,
		Good:        string(def.Good),
		Total:       string(def.Total),
		Version:     def.Version,
		SourceFile:  def.SourceFile,
		BurnRules:   make([]RuleInfo, 0, len(def.Rules)),
	}
	for _, rule := range def.Rules {
		detail.BurnRules = append(detail.BurnRules, RuleInfo{
			ID:               rule.ID(),
			Severity:         string(rule.Severity),
			ShortWindow:      slo.FormatDuration(rule.ShortWindow),
			LongWindow:       slo.FormatDuration(rule.LongWindow),
			Multiplier:       rule.Multiplier,
			TimeToExhaustion: slo.FormatDuration(slo.TimeToExhaustion(def.ComplianceWindow, rule.Multiplier)),
		})
	}
	respondJSON(w, http.StatusOK, detail)
}

// handleReload handles POST /v1/reload. Configuration errors exclude single
// SLOs and are part of a successful response; an unreadable policy path keeps
// the previous snapshot and fails the request.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	prev := s.policies.Snapshot()

	next, err := s.policies.Reload()
	if next == nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("reload failed: %v", err))
		return
	}

	added, removed, changed := policy.Diff(prev, next)
	respondJSON(w, http.StatusOK, ReloadResponse{
		Version: next.Version,
		SLOs:    len(next.Definitions),
		Added:   nonNil(added),
		Removed: nonNil(removed),
		Changed: nonNil(changed),
		Errors:  configErrors(next.Errors),
	})
}

// handleStatusList handles GET /v1/status
func (s *Server) handleStatusList(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	statuses := s.scheduler.Cache().GetAll()

	resp := StatusListResponse{Statuses: make([]StatusResponse, 0, len(statuses))}
	for i := range statuses {
		resp.Statuses = append(resp.Statuses, toStatusResponse(&statuses[i], now))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatusGet handles GET /v1/status/{name}
func (s *Server) handleStatusGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.policies.Get(name); !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("SLO not found: %s", name))
		return
	}

	status, ok := s.scheduler.Status(name)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no evaluation found for SLO: %s", name))
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(status, s.now()))
}

// handleEvaluate handles POST /v1/evaluate/{name}
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	status, err := s.scheduler.EvaluateNow(r.Context(), name)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownSLO) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("evaluation failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(status, s.now()))
}

// handleAlerts handles GET /v1/alerts. Filters: slo, severity, state.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	alerts, err := s.engine.Alerts(r.Context(), query.Get("slo"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list alerts: %v", err))
		return
	}

	severity, state := query.Get("severity"), query.Get("state")
	filtered := make([]alerting.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if severity != "" && string(alert.Severity) != severity {
			continue
		}
		if state != "" && string(alert.State) != state {
			continue
		}
		filtered = append(filtered, alert)
	}
	respondJSON(w, http.StatusOK, AlertsResponse{Alerts: filtered})
}

// handleReport handles GET /v1/report/{name}?period=weekly|monthly&at=RFC3339&format=markdown
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		respondError(w, http.StatusServiceUnavailable, "reports not configured")
		return
	}
	def, ok := s.definition(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	period := report.PeriodWeekly
	if p := query.Get("period"); p != "" {
		parsed, err := report.ParsePeriod(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		period = parsed
	}

	at := s.now()
	if atStr := query.Get("at"); atStr != "" {
		parsed, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid at: %v", err))
			return
		}
		at = parsed
	}

	rep, err := s.reporter.Summarize(r.Context(), def, period, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("report failed: %v", err))
		return
	}

	if query.Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.RenderMarkdown(rep)))
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// handleHistory handles GET /v1/history/{name}
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}
	name := r.PathValue("name")

	// Parse query parameters
	query := r.URL.Query()
	filter := storage.HistoryFilter{
		SLOName:  name,
		Severity: query.Get("severity"),
		Limit:    100,
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	if startTimeStr := query.Get("startTime"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			filter.StartTime = &startTime
		}
	}

	if endTimeStr := query.Get("endTime"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			filter.EndTime = &endTime
		}
	}

	budgets, err := s.history.QueryBudgets(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query budgets: %v", err))
		return
	}
	transitions, err := s.history.QueryTransitions(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query transitions: %v", err))
		return
	}

	if budgets == nil {
		budgets = []budget.State{}
	}
	if transitions == nil {
		transitions = []alerting.Transition{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{SLO: name, Budgets: budgets, Transitions: transitions})
}

func (s *Server) definition(w http.ResponseWriter, r *http.Request) (slo.Definition, bool) {
	name := r.PathValue("name")
	def, ok := s.policies.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("SLO not found: %s", name))
	}
	return def, ok
}

func summarize(def slo.Definition) SLOSummary {
	return SLOSummary{
		Name:               def.Name,
		Service:            def.Service,
		Owner:              def.Owner,
		Target:             def.TargetRatio,
		ComplianceWindow:   slo.FormatDuration(def.ComplianceWindow),
		EvaluationInterval: slo.FormatDuration(def.EvaluationInterval),
		Rules:              len(def.Rules),
	}
}

func toStatusResponse(status *scheduler.Status, now time.Time) StatusResponse {
	resp := StatusResponse{Status: *status, Stale: status.IsStale(now)}
	if resp.Alerts == nil {
		resp.Alerts = []alerting.Alert{}
	}
	if status.Budget != nil {
		pct := status.Budget.DisplayConsumedPercent()
		resp.BudgetConsumedPercent = &pct
	}
	return resp
}

func configErrors(cerrs []*policy.ConfigurationError) []ConfigErrorInfo {
	if len(cerrs) == 0 {
		return nil
	}
	out := make([]ConfigErrorInfo, len(cerrs))
	for i, cerr := range cerrs {
		out[i] = ConfigErrorInfo{File: cerr.File, SLO: cerr.SLOName, Path: cerr.Path, Message: cerr.Message}
	}
	return out
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
