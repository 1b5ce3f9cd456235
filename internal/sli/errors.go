package sli

import (
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

// ErrNoData is matched by every NoDataError
var ErrNoData = errors.New("no data")

// NoDataError means the backend returned no samples, or a zero total, for a window
type NoDataError struct {
	SLOName string
	Window  time.Duration
	Query   string
	Reason  string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("slo %s: no data for window %s: %s", e.SLOName, slo.FormatDuration(e.Window), e.Reason)
}

// Is makes errors.Is(err, ErrNoData) hold for any NoDataError
func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}

// EvaluationError wraps a backend failure for one query
type EvaluationError struct {
	SLOName   string
	Window    time.Duration
	Query     string
	Err       error
	Retryable bool
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("slo %s: query failed (window=%s, query=%q): %v", e.SLOName, slo.FormatDuration(e.Window), e.Query, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsNoData reports whether err is, or wraps, a NoDataError
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}
