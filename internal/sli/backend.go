package sli

import (
	"context"
	"math"
	"time"
)

// Backend is the time-series store the evaluator reads from. Implementations
// live under internal/adapter.
type Backend interface {
	// InstantQuery evaluates expr at a single point in time
	InstantQuery(ctx context.Context, expr string, at time.Time) (Vector, error)
	// RangeQuery evaluates expr at every step between start and end
	RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (Matrix, error)
}

// Element is one labelled value of an instant query result
type Element struct {
	Labels map[string]string
	Value  float64
}

// Vector is an instant query result
type Vector []Element

// Sum adds every non-NaN element. ok is false when there is nothing to add.
func (v Vector) Sum() (sum float64, ok bool) {
	for _, e := range v {
		if math.IsNaN(e.Value) {
			continue
		}
		sum += e.Value
		ok = true
	}
	return sum, ok
}

// Point is a single timestamped value of a range query
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is one labelled range of points
type Series struct {
	Labels map[string]string
	Points []Point
}

// Matrix is a range query result
type Matrix []Series

// SumByTimestamp collapses every series into one value per timestamp
func (m Matrix) SumByTimestamp() map[int64]float64 {
	out := make(map[int64]float64)
	for _, s := range m {
		for _, p := range s.Points {
			if math.IsNaN(p.Value) {
				continue
			}
			out[p.Timestamp.Unix()] += p.Value
		}
	}
	return out
}
