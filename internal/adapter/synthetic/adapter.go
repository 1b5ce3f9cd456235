package synthetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// MetricFixture represents a metric fixture file format
type MetricFixture struct {
	Windows map[string]WindowData `json:"windows"`
	// Errors maps a window to a backend error message
	Errors map[string]string `json:"errors,omitempty"`
}

// WindowData represents metrics for a specific window
type WindowData struct {
	Good  float64 `json:"good"`
	Total float64 `json:"total"`
}

// Adapter is an in-memory backend keyed by rendered query expression.
// Unknown expressions return an empty vector.
type Adapter struct {
	mu     sync.RWMutex
	values map[string]float64
	errs   map[string]error
	ranges map[string][]sli.Point
	calls  map[string]int
}

// NewAdapter creates a new synthetic adapter
func NewAdapter() *Adapter {
	return &Adapter{
		values: make(map[string]float64),
		errs:   make(map[string]error),
		ranges: make(map[string][]sli.Point),
		calls:  make(map[string]int),
	}
}

// LoadFixture loads the per-window good/total counts of def from a JSON file
func (a *Adapter) LoadFixture(def slo.Definition, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture MetricFixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	return a.SetFixture(def, &fixture)
}

// SetFixture replaces the values of def's indicator queries with the fixture's windows
func (a *Adapter) SetFixture(def slo.Definition, fixture *MetricFixture) error {
	for window, data := range fixture.Windows {
		d, err := slo.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("fixture window %q: %w", window, err)
		}
		a.SetWindow(def, d, data.Good, data.Total)
	}
	for window, msg := range fixture.Errors {
		d, err := slo.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("fixture window %q: %w", window, err)
		}
		a.SetError(def.Total.Render(d), errors.New(msg))
	}
	return nil
}

// SetWindow sets the good and total counts def reports for one window
func (a *Adapter) SetWindow(def slo.Definition, window time.Duration, good, total float64) {
	a.Set(def.Good.Render(window), good)
	a.Set(def.Total.Render(window), total)
}

// ClearWindow removes def's values for one window, leaving no data
func (a *Adapter) ClearWindow(def slo.Definition, window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, expr := range []string{def.Good.Render(window), def.Total.Render(window)} {
		delete(a.values, expr)
		delete(a.errs, expr)
	}
}

// Set stores the instant value for expr and clears any error for it
func (a *Adapter) Set(expr string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[expr] = value
	delete(a.errs, expr)
}

// SetError makes every query of expr fail with err
func (a *Adapter) SetError(expr string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[expr] = err
}

// SetRange stores the points RangeQuery returns for expr
func (a *Adapter) SetRange(expr string, points []sli.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sorted := append([]sli.Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	a.ranges[expr] = sorted
}

// Calls returns how many times expr was queried
func (a *Adapter) Calls(expr string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls[expr]
}

// InstantQuery implements sli.Backend
func (a *Adapter) InstantQuery(ctx context.Context, expr string, at time.Time) (sli.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[expr]++

	if err, ok := a.errs[expr]; ok {
		return nil, err
	}
	value, ok := a.values[expr]
	if !ok {
		return sli.Vector{}, nil
	}
	return sli.Vector{{Labels: map[string]string{}, Value: value}}, nil
}

// RangeQuery implements sli.Backend. Points outside [start, end] are dropped.
func (a *Adapter) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (sli.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[expr]++

	if err, ok := a.errs[expr]; ok {
		return nil, err
	}

	var points []sli.Point
	for _, p := range a.ranges[expr] {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return sli.Matrix{}, nil
	}
	return sli.Matrix{{Labels: map[string]string{}, Points: points}}, nil
}
