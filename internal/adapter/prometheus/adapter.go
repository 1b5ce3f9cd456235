package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-budget/internal/sli"
)

// Config holds Prometheus adapter configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
	Logger         *slog.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
	}
}

// Adapter is a Prometheus metrics backend
type Adapter struct {
	config Config
	api    v1.API
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewAdapter creates a new Prometheus adapter
func NewAdapter(config Config) (*Adapter, error) {
	if config.URL == "" {
		return nil, errors.New("prometheus URL is required")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	client, err := api.NewClient(api.Config{Address: config.URL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		config: config,
		api:    v1.NewAPI(client),
		sem:    semaphore.NewWeighted(config.MaxConcurrency),
		logger: logger,
	}, nil
}

// InstantQuery implements sli.Backend
func (a *Adapter) InstantQuery(ctx context.Context, expr string, at time.Time) (sli.Vector, error) {
	var vector sli.Vector
	err := a.do(ctx, expr, func(ctx context.Context) error {
		value, warnings, err := a.api.Query(ctx, expr, at)
		if err != nil {
			return err
		}
		a.logWarnings(expr, warnings)
		vector, err = toVector(value)
		return err
	})
	return vector, err
}

// RangeQuery implements sli.Backend
func (a *Adapter) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (sli.Matrix, error) {
	var matrix sli.Matrix
	err := a.do(ctx, expr, func(ctx context.Context) error {
		value, warnings, err := a.api.QueryRange(ctx, expr, v1.Range{Start: start, End: end, Step: step})
		if err != nil {
			return err
		}
		a.logWarnings(expr, warnings)
		matrix, err = toMatrix(value)
		return err
	})
	return matrix, err
}

// do runs query under the concurrency limit and retries retryable failures
func (a *Adapter) do(ctx context.Context, expr string, query func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	// Acquire semaphore to limit concurrency
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("semaphore acquire: %w", err)
	}
	defer a.sem.Release(1)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("query %q failed after %d attempts: %w", expr, attempts, errors.Join(lastErr, ctx.Err()))
			case <-time.After(a.config.RetryDelay):
			}
		}

		attempts++
		err := query(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	return fmt.Errorf("query %q failed after %d attempts: %w", expr, attempts, lastErr)
}

func (a *Adapter) logWarnings(expr string, warnings v1.Warnings) {
	for _, w := range warnings {
		a.logger.Warn("prometheus query warning", "query", expr, "warning", w)
	}
}

// retryable reports whether another attempt could succeed
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *v1.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case v1.ErrBadData, v1.ErrBadResponse, v1.ErrCanceled, v1.ErrClient:
			return false
		}
	}
	return true
}

func toVector(value model.Value) (sli.Vector, error) {
	if value == nil {
		return sli.Vector{}, nil
	}
	switch v := value.(type) {
	case model.Vector:
		vector := make(sli.Vector, 0, len(v))
		for _, sample := range v {
			vector = append(vector, sli.Element{Labels: labels(sample.Metric), Value: float64(sample.Value)})
		}
		return vector, nil
	case *model.Scalar:
		return sli.Vector{{Labels: map[string]string{}, Value: float64(v.Value)}}, nil
	default:
		return nil, fmt.Errorf("unexpected result type %s for instant query", value.Type())
	}
}

func toMatrix(value model.Value) (sli.Matrix, error) {
	if value == nil {
		return sli.Matrix{}, nil
	}
	m, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s for range query", value.Type())
	}

	matrix := make(sli.Matrix, 0, len(m))
	for _, stream := range m {
		points := make([]sli.Point, 0, len(stream.Values))
		for _, p := range stream.Values {
			points = append(points, sli.Point{Timestamp: p.Timestamp.Time().UTC(), Value: float64(p.Value)})
		}
		matrix = append(matrix, sli.Series{Labels: labels(stream.Metric), Points: points})
	}
	return matrix, nil
}

func labels(metric model.Metric) map[string]string {
	out := make(map[string]string, len(metric))
	for k, v := range metric {
		out[string(k)] = string(v)
	}
	return out
}
