package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samijaber1/aegis-budget/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/alerting/redisstore"
	"github.com/samijaber1/aegis-budget/internal/api"
	"github.com/samijaber1/aegis-budget/internal/backend"
	"github.com/samijaber1/aegis-budget/internal/budget"
	"github.com/samijaber1/aegis-budget/internal/config"
	"github.com/samijaber1/aegis-budget/internal/logging"
	"github.com/samijaber1/aegis-budget/internal/metrics"
	"github.com/samijaber1/aegis-budget/internal/notify"
	"github.com/samijaber1/aegis-budget/internal/policy"
	"github.com/samijaber1/aegis-budget/internal/report"
	"github.com/samijaber1/aegis-budget/internal/scheduler"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/storage"
	"github.com/samijaber1/aegis-budget/internal/storage/sqlite"
)

// app holds the wired components of a running server
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	policies   *policy.Store
	scheduler  *scheduler.Scheduler
	server     *api.Server
	dispatcher *notify.Dispatcher
	closers    []func() error
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- a.server.Start()
	}()

	select {
	case err := <-serverErrors:
		a.scheduler.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", "err", err)
	}
	a.scheduler.Stop()
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(shutdownCtx); err != nil {
			logger.Error("notifications dropped on shutdown", "err", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// newApp wires every component from cfg. The policy is loaded last so that
// every reload listener sees the first snapshot.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	policies, err := policy.NewStore(cfg.Policy.Path, logger.With("component", "policy"))
	if err != nil {
		return nil, err
	}
	a.policies = policies

	metricsBackend, closeBackend, err := backend.New(ctx, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)
	if fake, isSynthetic := metricsBackend.(*synthetic.Adapter); isSynthetic && cfg.Backend.FixturePath != "" {
		path := cfg.Backend.FixturePath
		policies.OnReload(func(prev, next *policy.Snapshot) {
			if err := backend.ApplyFixtures(fake, path, next.Definitions); err != nil {
				logger.Warn("failed to apply fixtures", "path", path, "err", err)
			}
		})
	}

	state, err := a.newStateStore(ctx)
	if err != nil {
		return nil, err
	}

	var history storage.HistoryStorage
	var transitions report.TransitionSource
	if cfg.History.Path != "" {
		store, err := sqlite.NewStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		history, transitions = store, store
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}

	evaluator := sli.NewEvaluator(metricsBackend, sli.WithQueryTimeout(cfg.Backend.QueryTimeout))
	tracker := budget.NewTracker(evaluator)

	engineOpts := []alerting.EngineOption{alerting.WithLogger(logger.With("component", "alerting"))}
	if history != nil {
		engineOpts = append(engineOpts, alerting.WithRecorder(history))
	}
	engine := alerting.NewEngine(evaluator, state, notifier, engineOpts...)

	reporter := report.NewReporter(tracker, evaluator, transitions,
		report.WithTrendStep(cfg.Report.TrendStep),
		report.WithLogger(logger.With("component", "report")),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithHistory(history),
		scheduler.WithLogger(logger.With("component", "scheduler")),
	}
	if cfg.Report.Enabled {
		periods := make([]report.Period, 0, len(cfg.Report.Periods))
		for _, p := range cfg.Report.Periods {
			period, err := report.ParsePeriod(p)
			if err != nil {
				return nil, err
			}
			periods = append(periods, period)
		}
		schedOpts = append(schedOpts, scheduler.WithReports(reporter, cfg.Report.Dir, periods...))
	}
	a.scheduler = scheduler.NewScheduler(policies, tracker, engine, schedOpts...)

	a.server = api.NewServer(cfg.Address(), policies, a.scheduler, engine,
		api.WithReporter(reporter),
		api.WithHistory(history),
		api.WithLogger(logger.With("component", "api")),
	)

	// Invalid SLOs are excluded and logged by the store; only an unreadable path is fatal
	if _, err := policies.Load(); err != nil && policies.Snapshot() == nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	ok = true
	return a, nil
}

func (a *app) newStateStore(ctx context.Context) (alerting.StateStore, error) {
	cfg := a.cfg.State
	switch cfg.Type {
	case config.StateRedis:
		store, err := redisstore.NewStore(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("keeping alert state in redis", "addr", cfg.Redis.Addr)
		return store, nil
	default:
		return alerting.NewMemoryStore(), nil
	}
}

// newNotifier always logs events; a configured webhook is delivered through a
// dispatcher so slow receivers never block evaluation.
func (a *app) newNotifier() (notify.Notifier, error) {
	cfg := a.cfg.Notify
	notifiers := notify.Multi{notify.NewLogNotifier(a.logger.With("component", "notify"))}

	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: cfg.WebhookTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.dispatcher = notify.NewDispatcher(webhook, notify.DispatcherConfig{
			Name:       "webhook",
			QueueSize:  cfg.QueueSize,
			RetryCount: cfg.RetryCount,
			RetryDelay: cfg.RetryDelay,
			Timeout:    cfg.WebhookTimeout,
		}, a.logger.With("component", "dispatcher"))
		notifiers = append(notifiers, a.dispatcher)
	}
	return notifiers, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
