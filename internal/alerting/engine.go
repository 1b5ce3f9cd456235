package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/samijaber1/aegis-budget/internal/metrics"
	"github.com/samijaber1/aegis-budget/internal/notify"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// Engine evaluates the burn rate rules of SLOs and drives alert state
type Engine struct {
	evaluator *sli.Evaluator
	store     StateStore
	notifier  notify.Notifier
	recorder  Recorder
	logger    *slog.Logger
	locks     keyedMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRecorder records every transition to r
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a new alerting engine
func NewEngine(evaluator *sli.Evaluator, store StateStore, notifier notify.Notifier, opts ...EngineOption) *Engine {
	e := &Engine{
		evaluator: evaluator,
		store:     store,
		notifier:  notifier,
		logger:    slog.Default(),
		locks:     keyedMutex{locks: make(map[string]*sync.Mutex)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type windowResult struct {
	sample sli.Sample
	err    error
}

type ruleResult struct {
	short windowResult
	long  windowResult
}

// Evaluate runs every rule of def at time at and returns one alert per rule in
// rule order. Rules are independent: a failing rule holds its own state and
// its error is joined into the returned error while the others proceed.
// Calls for the same SLO are serialized.
func (e *Engine) Evaluate(ctx context.Context, def slo.Definition, at time.Time) ([]Alert, error) {
	unlock := e.locks.Lock(def.Name)
	defer unlock()

	cache := newWindowCache(e.evaluator, def, at)

	// Fetch every rule's windows concurrently, then decide in rule order
	results := make([]ruleResult, len(def.Rules))
	var wg sync.WaitGroup
	for i, rule := range def.Rules {
		wg.Add(1)
		go func(i int, rule slo.BurnRateRule) {
			defer wg.Done()
			results[i] = e.fetchRule(ctx, cache, rule)
		}(i, rule)
	}
	wg.Wait()

	alerts := make([]Alert, len(def.Rules))
	var errs []error
	for i, rule := range def.Rules {
		alert, err := e.applyRule(ctx, def, i, rule, at, results[i])
		alerts[i] = alert
		if err != nil {
			errs = append(errs, err)
		}
	}

	return alerts, errors.Join(errs...)
}

// Alerts returns the stored alerts of an SLO, or of all SLOs when sloName is empty
func (e *Engine) Alerts(ctx context.Context, sloName string) ([]Alert, error) {
	return e.store.List(ctx, sloName)
}

// Forget drops the stored state of an SLO that no longer exists
func (e *Engine) Forget(ctx context.Context, sloName string) error {
	unlock := e.locks.Lock(sloName)
	err := e.store.Delete(ctx, sloName)
	unlock()
	e.locks.Remove(sloName)
	return err
}

// Prune drops the stored alerts of def whose rule is no longer part of it.
// A firing alert is resolved at time at first, so its resolution is recorded
// and notified exactly once before the state is removed.
func (e *Engine) Prune(ctx context.Context, def slo.Definition, at time.Time) error {
	unlock := e.locks.Lock(def.Name)
	defer unlock()

	stored, err := e.store.List(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("list alerts of %s: %w", def.Name, err)
	}

	active := make(map[string]bool, len(def.Rules))
	for _, rule := range def.Rules {
		active[rule.ID()] = true
	}

	var errs []error
	for _, alert := range stored {
		if active[alert.RuleID] {
			continue
		}
		if alert.State == StateFiring {
			if err := e.resolveRetired(ctx, def, alert, at); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := e.store.DeleteKey(ctx, alert.Key()); err != nil {
			errs = append(errs, fmt.Errorf("drop alert %s/%s: %w", def.Name, alert.RuleID, err))
			continue
		}
		e.logger.Info("dropped alert of retired rule", "slo", def.Name, "rule", alert.RuleID)
	}
	return errors.Join(errs...)
}

func (e *Engine) resolveRetired(ctx context.Context, def slo.Definition, alert Alert, at time.Time) error {
	resolved := alert
	resolved.State = StateResolved
	resolved.ResolvedAt = at
	resolved.LastEvaluatedAt = at
	resolved.HeldReason = ""

	// Stored first so a failed write leaves the alert firing for the next prune
	if err := e.store.Put(ctx, resolved); err != nil {
		return fmt.Errorf("resolve alert %s/%s: %w", def.Name, alert.RuleID, err)
	}
	e.transition(ctx, def, alert.State, resolved, at)
	return nil
}

// fetchRule queries the short and long window of a rule concurrently
func (e *Engine) fetchRule(ctx context.Context, cache *windowCache, rule slo.BurnRateRule) ruleResult {
	var result ruleResult
	var g errgroup.Group
	g.Go(func() error {
		s, err := cache.get(ctx, rule.ShortWindow)
		result.short = windowResult{sample: s, err: err}
		return nil
	})
	g.Go(func() error {
		s, err := cache.get(ctx, rule.LongWindow)
		result.long = windowResult{sample: s, err: err}
		return nil
	})
	_ = g.Wait()
	return result
}

func (e *Engine) applyRule(ctx context.Context, def slo.Definition, index int, rule slo.BurnRateRule, at time.Time, result ruleResult) (Alert, error) {
	key := Key{SLOName: def.Name, RuleID: rule.ID()}

	current, ok, err := e.store.Get(ctx, key)
	if err != nil {
		alert := NewAlert(def.Name, index, rule)
		alert.LastEvaluatedAt = at
		alert.HeldReason = "alert state unavailable"
		return alert, fmt.Errorf("load alert state %s/%s: %w", def.Name, key.RuleID, err)
	}
	if !ok {
		current = NewAlert(def.Name, index, rule)
	}
	current.RuleIndex = index
	current.Severity = rule.Severity
	current.ShortWindow = rule.ShortWindow
	current.LongWindow = rule.LongWindow
	current.Multiplier = rule.Multiplier
	current.LastEvaluatedAt = at

	// Missing data or a failed query never moves the state
	if result.short.err != nil || result.long.err != nil {
		current.HeldReason = heldReason(result.short.err, result.long.err)
		if err := errors.Join(result.short.err, result.long.err); err != nil {
			return current, fmt.Errorf("rule %s: %w", key.RuleID, err)
		}
	}

	shortBurn := sli.BurnRate(result.short.sample.Ratio, def.TargetRatio)
	longBurn := sli.BurnRate(result.long.sample.Ratio, def.TargetRatio)
	metrics.SetBurnRate(def.Name, slo.FormatDuration(rule.ShortWindow), shortBurn)
	metrics.SetBurnRate(def.Name, slo.FormatDuration(rule.LongWindow), longBurn)

	previous := current
	current.ShortWindowBurn = shortBurn
	current.LongWindowBurn = longBurn
	current.HeldReason = ""

	next := Decide(current.State, shortBurn, longBurn, rule.Multiplier)
	if next == current.State {
		return current, nil
	}

	current.State = next
	switch next {
	case StateFiring:
		current.FiredAt = at
		current.ResolvedAt = time.Time{}
	case StateResolved:
		current.ResolvedAt = at
	}

	// The transition only counts once it is stored; otherwise the next tick retries it
	if err := e.store.Put(ctx, current); err != nil {
		previous.HeldReason = "alert state write failed"
		return previous, fmt.Errorf("store alert %s/%s: %w", def.Name, key.RuleID, err)
	}

	e.transition(ctx, def, previous.State, current, at)
	return current, nil
}

// transition records, counts and notifies a stored state change
func (e *Engine) transition(ctx context.Context, def slo.Definition, from State, alert Alert, at time.Time) {
	t := Transition{
		SLOName:    def.Name,
		RuleID:     alert.RuleID,
		Severity:   alert.Severity,
		From:       from,
		To:         alert.State,
		At:         at,
		ShortBurn:  alert.ShortWindowBurn,
		LongBurn:   alert.LongWindowBurn,
		Multiplier: alert.Multiplier,
	}
	metrics.ObserveTransition(def.Name, string(alert.Severity), string(alert.State))
	e.logger.Info("alert transition",
		"slo", def.Name,
		"rule", alert.RuleID,
		"severity", alert.Severity,
		"from", from,
		"to", alert.State,
		"short_burn", alert.ShortWindowBurn,
		"long_burn", alert.LongWindowBurn,
	)

	if e.recorder != nil {
		if err := e.recorder.RecordTransition(t); err != nil {
			e.logger.Error("failed to record alert transition", "slo", def.Name, "rule", alert.RuleID, "err", err)
		}
	}

	e.notify(ctx, def, alert)
}

func (e *Engine) notify(ctx context.Context, def slo.Definition, alert Alert) {
	if e.notifier == nil {
		return
	}
	event := notify.Event{
		ID:          notify.NewEventID(),
		SLOName:     alert.SLOName,
		Service:     def.Service,
		RuleID:      alert.RuleID,
		Severity:    string(alert.Severity),
		State:       string(alert.State),
		ShortWindow: slo.FormatDuration(alert.ShortWindow),
		LongWindow:  slo.FormatDuration(alert.LongWindow),
		ShortBurn:   alert.ShortWindowBurn,
		LongBurn:    alert.LongWindowBurn,
		Multiplier:  alert.Multiplier,
		FiredAt:     alert.FiredAt,
		ResolvedAt:  alert.ResolvedAt,
	}
	// Delivery problems never reverse a stored transition
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Error("failed to notify", "slo", alert.SLOName, "rule", alert.RuleID, "state", alert.State, "err", err)
	}
}

func heldReason(short, long error) string {
	for _, err := range []error{short, long} {
		if err == nil {
			continue
		}
		if sli.IsNoData(err) {
			return "no data"
		}
	}
	return "evaluation error"
}

// windowCache evaluates each window at most once per tick
type windowCache struct {
	evaluator *sli.Evaluator
	def       slo.Definition
	at        time.Time

	group   singleflight.Group
	mu      sync.Mutex
	results map[time.Duration]windowResult
}

func newWindowCache(evaluator *sli.Evaluator, def slo.Definition, at time.Time) *windowCache {
	return &windowCache{
		evaluator: evaluator,
		def:       def,
		at:        at,
		results:   make(map[time.Duration]windowResult),
	}
}

func (c *windowCache) get(ctx context.Context, window time.Duration) (sli.Sample, error) {
	c.mu.Lock()
	if r, ok := c.results[window]; ok {
		c.mu.Unlock()
		return r.sample, r.err
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(window.String(), func() (interface{}, error) {
		c.mu.Lock()
		if r, ok := c.results[window]; ok {
			c.mu.Unlock()
			return r.sample, r.err
		}
		c.mu.Unlock()

		sample, err := c.evaluator.Evaluate(ctx, c.def, window, c.at)
		c.mu.Lock()
		c.results[window] = windowResult{sample: sample, err: err}
		c.mu.Unlock()
		return sample, err
	})
	if err != nil {
		return sli.Sample{}, err
	}
	return v.(sli.Sample), nil
}

// keyedMutex hands out one mutex per SLO name
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Remove drops the mutex of key. A later Lock creates a fresh one.
func (k *keyedMutex) Remove(key string) {
	k.mu.Lock()
	delete(k.locks, key)
	k.mu.Unlock()
}
