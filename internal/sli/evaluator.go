package sli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

// DefaultQueryTimeout bounds every backend call made by the evaluator
const DefaultQueryTimeout = 10 * time.Second

// Sample is the SLI ratio of one SLO over one window
type Sample struct {
	SLOName   string
	Timestamp time.Time
	Window    time.Duration
	Ratio     float64
	Good      float64
	Total     float64
}

// Evaluator turns indicator queries into SLI samples
type Evaluator struct {
	backend      Backend
	queryTimeout time.Duration
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithQueryTimeout overrides DefaultQueryTimeout
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.queryTimeout = d
		}
	}
}

// NewEvaluator creates a new evaluator reading from backend
func NewEvaluator(backend Backend, opts ...Option) *Evaluator {
	e := &Evaluator{backend: backend, queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate computes the SLI of def over [at-window, at]. The good and total
// queries run concurrently. A zero or missing total yields a *NoDataError and
// a backend failure yields a *EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, def slo.Definition, window time.Duration, at time.Time) (Sample, error) {
	goodExpr := def.Good.Render(window)
	totalExpr := def.Total.Render(window)

	var good, total Vector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.instant(gctx, def.Name, window, goodExpr, at)
		good = v
		return err
	})
	g.Go(func() error {
		v, err := e.instant(gctx, def.Name, window, totalExpr, at)
		total = v
		return err
	})
	if err := g.Wait(); err != nil {
		return Sample{}, err
	}

	totalSum, ok := total.Sum()
	if !ok {
		return Sample{}, &NoDataError{SLOName: def.Name, Window: window, Query: totalExpr, Reason: "empty result for total query"}
	}
	goodSum, ok := good.Sum()
	if !ok {
		return Sample{}, &NoDataError{SLOName: def.Name, Window: window, Query: goodExpr, Reason: "empty result for good query"}
	}

	ratio, ok := ComputeSLI(goodSum, totalSum)
	if !ok {
		return Sample{}, &NoDataError{SLOName: def.Name, Window: window, Query: totalExpr, Reason: "no traffic (total=0)"}
	}

	return Sample{
		SLOName:   def.Name,
		Timestamp: at,
		Window:    window,
		Ratio:     ratio,
		Good:      goodSum,
		Total:     totalSum,
	}, nil
}

// Series computes one sample per step between start and end, each covering
// the preceding step. Steps without traffic or without a good point are skipped.
func (e *Evaluator) Series(ctx context.Context, def slo.Definition, step time.Duration, start, end time.Time) ([]Sample, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %s", step)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	goodExpr := def.Good.Render(step)
	totalExpr := def.Total.Render(step)

	var good, total Matrix
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.series(gctx, def.Name, step, goodExpr, start, end)
		good = m
		return err
	})
	g.Go(func() error {
		m, err := e.series(gctx, def.Name, step, totalExpr, start, end)
		total = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	goodByTS := good.SumByTimestamp()
	totalByTS := total.SumByTimestamp()

	timestamps := make([]int64, 0, len(totalByTS))
	for ts := range totalByTS {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	samples := make([]Sample, 0, len(timestamps))
	for _, ts := range timestamps {
		// A step without a good point is missing data, not zero good events
		goodSum, present := goodByTS[ts]
		if !present {
			continue
		}
		ratio, ok := ComputeSLI(goodSum, totalByTS[ts])
		if !ok {
			continue
		}
		samples = append(samples, Sample{
			SLOName:   def.Name,
			Timestamp: time.Unix(ts, 0).UTC(),
			Window:    step,
			Ratio:     ratio,
			Good:      goodSum,
			Total:     totalByTS[ts],
		})
	}
	return samples, nil
}

func (e *Evaluator) instant(ctx context.Context, name string, window time.Duration, expr string, at time.Time) (Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	v, err := e.backend.InstantQuery(ctx, expr, at)
	if err != nil {
		return nil, wrapQueryError(name, window, expr, err)
	}
	return v, nil
}

func (e *Evaluator) series(ctx context.Context, name string, step time.Duration, expr string, start, end time.Time) (Matrix, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	m, err := e.backend.RangeQuery(ctx, expr, start, end, step)
	if err != nil {
		return nil, wrapQueryError(name, step, expr, err)
	}
	return m, nil
}

func wrapQueryError(name string, window time.Duration, expr string, err error) error {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	return &EvaluationError{
		SLOName:   name,
		Window:    window,
		Query:     expr,
		Err:       err,
		Retryable: !errors.Is(err, context.Canceled),
	}
}
