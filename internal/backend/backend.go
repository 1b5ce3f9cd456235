// Package backend builds the configured metrics backend.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samijaber1/aegis-budget/internal/adapter/cloudmonitoring"
	"github.com/samijaber1/aegis-budget/internal/adapter/prometheus"
	"github.com/samijaber1/aegis-budget/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-budget/internal/config"
	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// New returns the backend selected by cfg and a function releasing it
func New(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger) (sli.Backend, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	switch cfg.Type {
	case config.BackendPrometheus:
		adapter, err := prometheus.NewAdapter(prometheus.Config{
			URL:            cfg.PrometheusURL,
			Timeout:        cfg.QueryTimeout,
			MaxConcurrency: cfg.MaxConcurrency,
			RetryCount:     cfg.RetryCount,
			RetryDelay:     cfg.RetryDelay,
			Logger:         logger.With("component", "prometheus"),
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Prometheus backend", "url", cfg.PrometheusURL)
		return adapter, noop, nil

	case config.BackendCloudMonitoring:
		adapter, err := cloudmonitoring.NewAdapter(ctx, cloudmonitoring.Config{
			Project:        cfg.Project,
			Timeout:        cfg.QueryTimeout,
			MaxConcurrency: cfg.MaxConcurrency,
			RetryCount:     cfg.RetryCount,
			RetryDelay:     cfg.RetryDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Cloud Monitoring backend", "project", cfg.Project)
		return adapter, adapter.Close, nil

	case config.BackendSynthetic:
		logger.Info("using synthetic backend", "fixtures", cfg.FixturePath)
		return synthetic.NewAdapter(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// ApplyFixtures loads synthetic metrics for defs. A fixture directory holds
// one <slo>.json per SLO; a single file applies to every SLO.
func ApplyFixtures(adapter *synthetic.Adapter, path string, defs []slo.Definition) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("fixture path: %w", err)
	}
	for _, def := range defs {
		file := path
		if info.IsDir() {
			file = filepath.Join(path, def.Name+".json")
			if _, err := os.Stat(file); err != nil {
				continue
			}
		}
		if err := adapter.LoadFixture(def, file); err != nil {
			return fmt.Errorf("fixture for %s: %w", def.Name, err)
		}
	}
	return nil
}
