package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/metrics"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
	"github.com/samijaber1/aegis-budget/internal/storage"
)

// ErrUnknownSLO is returned for names missing from the active policy
var ErrUnknownSLO = errors.New("unknown SLO")

const (
	// DefaultJitter is the largest start delay as a fraction of the interval
	DefaultJitter = 0.1
	// DefaultReportCheckInterval is how often closed periods are looked for
	DefaultReportCheckInterval = time.Hour
)

// Scheduler runs one evaluation loop per active SLO
type Scheduler struct {
	policies *policy.Store
	tracker  *budget.Tracker
	engine   *alerting.Engine
	cache    *StatusCache
	logger   *slog.Logger

	history storage.HistoryStorage

	reporter            *report.Reporter
	reportDir           string
	reportPeriods       []report.Period
	reportCheckInterval time.Duration

	jitter float64
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   map[string]*loop
	wg      sync.WaitGroup
	running bool
}

type loop struct {
	def    slo.Definition
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithHistory records budgets and definitions to h
func WithHistory(h storage.HistoryStorage) Option {
	return func(s *Scheduler) { s.history = h }
}

// WithReports writes reports for the given periods to dir once they close
func WithReports(r *report.Reporter, dir string, periods ...report.Period) Option {
	return func(s *Scheduler) {
		s.reporter = r
		s.reportDir = dir
		s.reportPeriods = periods
	}
}

// WithReportCheckInterval sets how often the report loop looks for closed periods
func WithReportCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.reportCheckInterval = d }
}

// WithJitter sets the largest start delay as a fraction of the interval
func WithJitter(fraction float64) Option {
	return func(s *Scheduler) { s.jitter = fraction }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler over the SLOs of policies. It follows
// every policy reload from then on.
func NewScheduler(policies *policy.Store, tracker *budget.Tracker, engine *alerting.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		policies:            policies,
		tracker:             tracker,
		engine:              engine,
		cache:               NewStatusCache(),
		logger:              slog.Default(),
		reportCheckInterval: DefaultReportCheckInterval,
		jitter:              DefaultJitter,
		now:                 time.Now,
		loops:               make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(s)
	}
	policies.OnReload(s.reconcile)
	return s
}

// Start launches a loop per active SLO and, when configured, the report loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	snap := s.policies.Snapshot()
	if snap == nil {
		return fmt.Errorf("no policy loaded, call Load() first")
	}
	if len(snap.Definitions) == 0 {
		s.logger.Warn("no valid SLOs loaded", "path", s.policies.Path())
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, def := range snap.Definitions {
		s.storeDefinition(def)
		s.startLoop(def)
	}
	metrics.SetActiveSLOs(len(snap.Definitions))

	if s.reporter != nil && s.reportDir != "" && len(s.reportPeriods) > 0 {
		s.wg.Add(1)
		go s.reportLoop(s.ctx)
	}

	s.logger.Info("started scheduler", "slos", len(snap.Definitions))
	return nil
}

// Stop stops every loop and waits for in-flight evaluations to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.cancel()
	s.running = false
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Cache returns the status cache
func (s *Scheduler) Cache() *StatusCache {
	return s.cache
}

// Status returns the latest status of an SLO
func (s *Scheduler) Status(name string) (*Status, bool) {
	return s.cache.Get(name)
}

// EvaluateNow evaluates an SLO immediately and returns its new status. The
// error is only set when the SLO is not part of the active policy; evaluation
// problems are reported in the status.
func (s *Scheduler) EvaluateNow(ctx context.Context, name string) (*Status, error) {
	def, ok := s.policies.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSLO, name)
	}

	s.evaluateOnce(ctx, def)

	status, _ := s.cache.Get(name)
	return status, nil
}

// reconcile applies a policy reload to the running loops. Unchanged SLOs keep
// their loop; alert state of kept rules is untouched and alerts of rules that
// no longer exist are resolved and dropped.
func (s *Scheduler) reconcile(prev, next *policy.Snapshot) {
	added, removed, changed := policy.Diff(prev, next)
	metrics.SetActiveSLOs(len(next.Definitions))

	for _, name := range removed {
		s.stopLoop(name)
		if err := s.engine.Forget(context.Background(), name); err != nil {
			s.logger.Error("failed to drop alert state", "slo", name, "err", err)
		}
		s.cache.Delete(name)
		metrics.ForgetSLO(name)
		s.logger.Info("SLO removed", "slo", name)
	}

	for _, name := range append(added, changed...) {
		def, ok := next.Get(name)
		if !ok {
			continue
		}
		s.storeDefinition(def)
		s.stopLoop(name)

		// Alerts of rules that were edited away would otherwise stay firing forever
		if err := s.engine.Prune(context.Background(), def, s.now()); err != nil {
			s.logger.Error("failed to drop alerts of retired rules", "slo", name, "err", err)
		}

		s.mu.Lock()
		if s.running {
			s.startLoop(def)
		}
		s.mu.Unlock()
	}
}

// startLoop must be called with s.mu held
func (s *Scheduler) startLoop(def slo.Definition) {
	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{def: def, cancel: cancel, done: make(chan struct{})}
	s.loops[def.Name] = l

	s.wg.Add(1)
	go s.evaluateLoop(ctx, l)
}

func (s *Scheduler) stopLoop(name string) {
	s.mu.Lock()
	l, ok := s.loops[name]
	if ok {
		delete(s.loops, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// evaluateLoop runs periodic evaluations for a single SLO
func (s *Scheduler) evaluateLoop(ctx context.Context, l *loop) {
	defer s.wg.Done()
	defer close(l.done)

	interval := l.def.EvaluationInterval
	if interval <= 0 {
		interval = slo.DefaultEvaluationInterval
	}

	// Spread the first evaluations of SLOs loaded together
	if delay := s.startDelay(interval); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.evaluateOnce(ctx, l.def)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateOnce(ctx, l.def)
		}
	}
}

func (s *Scheduler) startDelay(interval time.Duration) time.Duration {
	max := int64(float64(interval) * s.jitter)
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(max))
}

// evaluateOnce computes the budget and the alerts of one SLO and caches the result
func (s *Scheduler) evaluateOnce(ctx context.Context, def slo.Definition) {
	now := s.now()
	started := time.Now()

	status := &Status{SLOName: def.Name}
	if prev, ok := s.cache.Get(def.Name); ok {
		status = prev
	}
	status.Interval = def.EvaluationInterval
	status.UpdatedAt = now

	state, budgetErr := s.tracker.ComputeBudget(ctx, def, now)
	if budgetErr == nil {
		status.Budget = &state
		status.LastSuccessAt = now
		metrics.SetBudget(def.Name, state.ConsumedFraction, state.RemainingFraction)
		if s.history != nil {
			if err := s.history.RecordBudget(state); err != nil {
				s.logger.Warn("failed to record budget", "slo", def.Name, "err", err)
			}
		}
	} else {
		s.logger.Warn("budget unavailable", "slo", def.Name, "err", budgetErr)
	}

	alerts, alertErr := s.engine.Evaluate(ctx, def, now)
	status.Alerts = alerts
	if alertErr != nil {
		s.logger.Warn("alert evaluation incomplete", "slo", def.Name, "err", alertErr)
	}

	err := errors.Join(budgetErr, alertErr)
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
		status.LastError = ""
		status.Degraded = false
		status.NoData = false
	case sli.IsNoData(err):
		outcome = metrics.OutcomeNoData
		status.LastError = err.Error()
		status.Degraded = true
		status.NoData = true
	default:
		outcome = metrics.OutcomeError
		status.LastError = err.Error()
		status.Degraded = true
		status.NoData = false
	}
	metrics.ObserveEvaluation(def.Name, time.Since(started), outcome)

	s.cache.Set(def.Name, status)

	if err == nil && state.Exhausted {
		s.logger.Warn("error budget exhausted", "slo", def.Name, "consumed", state.ConsumedFraction)
	}
	s.logger.Debug("evaluated SLO", "slo", def.Name, "outcome", outcome, "remaining", state.RemainingFraction)
}

func (s *Scheduler) storeDefinition(def slo.Definition) {
	if s.history == nil {
		return
	}
	if err := s.history.StoreDefinition(def); err != nil {
		s.logger.Warn("failed to store SLO definition", "slo", def.Name, "err", err)
	}
}

// reportLoop writes reports for periods that closed since the last check
func (s *Scheduler) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	s.writeReports(ctx)

	ticker := time.NewTicker(s.reportCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeReports(ctx)
		}
	}
}

// writeReports writes every missing report of the last closed periods. Stale
// reports are not written so the next check retries them.
func (s *Scheduler) writeReports(ctx context.Context) {
	snap := s.policies.Snapshot()
	if snap == nil {
		return
	}
	now := s.now()

	for _, def := range snap.Definitions {
		for _, period := range s.reportPeriods {
			start, _ := period.LastClosed(now)
			label := period.Label(start)
			if report.Exists(s.reportDir, def.Name, period, label) {
				continue
			}

			rep, err := s.reporter.Summarize(ctx, def, period, now)
			if err != nil {
				s.logger.Error("failed to build report", "slo", def.Name, "period", label, "err", err)
				continue
			}
			if rep.Stale {
				s.logger.Warn("skipping stale report", "slo", def.Name, "period", label, "reason", rep.StaleReason)
				continue
			}

			jsonPath, mdPath, err := report.WriteFiles(s.reportDir, rep)
			if err != nil {
				s.logger.Error("failed to write report", "slo", def.Name, "period", label, "err", err)
				continue
			}
			s.logger.Info("wrote report", "slo", def.Name, "period", label, "json", jsonPath, "markdown", mdPath)
		}
	}
}
