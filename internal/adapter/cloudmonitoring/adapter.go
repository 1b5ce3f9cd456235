package cloudmonitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"golang.org/x/sync/semaphore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/samijaber1/aegis-budget/internal/sli"
	"github.com/samijaber1/aegis-budget/internal/slo"
)

// Config holds Cloud Monitoring adapter configuration
type Config struct {
	Project        string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig(project string) Config {
	return Config{
		Project:        project,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     200 * time.Millisecond,
	}
}

type timeSeriesLister interface {
	ListTimeSeries(ctx context.Context, req *monitoringpb.ListTimeSeriesRequest) ([]*monitoringpb.TimeSeries, error)
	Close() error
}

// Adapter is a metrics backend over Cloud Monitoring. Expressions are
// monitoring filters prefixed with the aggregation window:
//
//	window(5m) metric.type="loadbalancing.googleapis.com/https/request_count"
//
// Every matching series is delta-aligned over the window and summed.
type Adapter struct {
	config Config
	client timeSeriesLister
	sem    *semaphore.Weighted
}

// NewAdapter creates an adapter using application default credentials
func NewAdapter(ctx context.Context, config Config) (*Adapter, error) {
	if config.Project == "" {
		return nil, errors.New("cloud monitoring project is required")
	}
	client, err := monitoring.NewMetricClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create metric client: %w", err)
	}
	return newAdapter(config, &metricClient{client: client}), nil
}

func newAdapter(config Config, client timeSeriesLister) *Adapter {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Adapter{
		config: config,
		client: client,
		sem:    semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// Close releases the underlying client
func (a *Adapter) Close() error {
	return a.client.Close()
}

// InstantQuery implements sli.Backend
func (a *Adapter) InstantQuery(ctx context.Context, expr string, at time.Time) (sli.Vector, error) {
	window, filter, err := ParseExpression(expr)
	if err != nil {
		return nil, err
	}

	series, err := a.list(ctx, filter, at.Add(-window), at, window)
	if err != nil {
		return nil, err
	}

	vector := make(sli.Vector, 0, len(series))
	for _, ts := range series {
		if len(ts.GetPoints()) == 0 {
			continue
		}
		// Points are newest first
		value, ok := pointValue(ts.GetPoints()[0])
		if !ok {
			continue
		}
		vector = append(vector, sli.Element{Labels: seriesLabels(ts), Value: value})
	}
	return vector, nil
}

// RangeQuery implements sli.Backend. The expression window should equal step.
func (a *Adapter) RangeQuery(ctx context.Context, expr string, start, end time.Time, step time.Duration) (sli.Matrix, error) {
	_, filter, err := ParseExpression(expr)
	if err != nil {
		return nil, err
	}

	series, err := a.list(ctx, filter, start.Add(-step), end, step)
	if err != nil {
		return nil, err
	}

	matrix := make(sli.Matrix, 0, len(series))
	for _, ts := range series {
		points := make([]sli.Point, 0, len(ts.GetPoints()))
		// Reverse into chronological order
		for i := len(ts.GetPoints()) - 1; i >= 0; i-- {
			p := ts.GetPoints()[i]
			value, ok := pointValue(p)
			if !ok {
				continue
			}
			points = append(points, sli.Point{Timestamp: p.GetInterval().GetEndTime().AsTime().UTC(), Value: value})
		}
		matrix = append(matrix, sli.Series{Labels: seriesLabels(ts), Points: points})
	}
	return matrix, nil
}

// ParseExpression splits "window(<duration>) <filter>" into its parts
func ParseExpression(expr string) (time.Duration, string, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "window(") {
		return 0, "", fmt.Errorf("expression %q must start with window(<duration>)", expr)
	}
	closing := strings.Index(expr, ")")
	if closing < 0 {
		return 0, "", fmt.Errorf("expression %q has an unterminated window()", expr)
	}

	window, err := slo.ParseDuration(expr[len("window("):closing])
	if err != nil {
		return 0, "", fmt.Errorf("expression %q: %w", expr, err)
	}
	filter := strings.TrimSpace(expr[closing+1:])
	if filter == "" {
		return 0, "", fmt.Errorf("expression %q has no filter", expr)
	}
	return window, filter, nil
}

func (a *Adapter) list(ctx context.Context, filter string, start, end time.Time, alignment time.Duration) ([]*monitoringpb.TimeSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer a.sem.Release(1)

	req := &monitoringpb.ListTimeSeriesRequest{
		Name:   fmt.Sprintf("projects/%s", a.config.Project),
		Filter: filter,
		Interval: &monitoringpb.TimeInterval{
			StartTime: timestamppb.New(start),
			EndTime:   timestamppb.New(end),
		},
		Aggregation: &monitoringpb.Aggregation{
			AlignmentPeriod:    durationpb.New(alignment),
			PerSeriesAligner:   monitoringpb.Aggregation_ALIGN_DELTA,
			CrossSeriesReducer: monitoringpb.Aggregation_REDUCE_SUM,
		},
		View: monitoringpb.ListTimeSeriesRequest_FULL,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("list time series failed after %d attempts: %w", attempts, errors.Join(lastErr, ctx.Err()))
			case <-time.After(a.config.RetryDelay):
			}
		}

		attempts++
		series, err := a.client.ListTimeSeries(ctx, req)
		if err == nil {
			return series, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("list time series failed after %d attempts: %w", attempts, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func pointValue(p *monitoringpb.Point) (float64, bool) {
	if p.GetValue() == nil {
		return 0, false
	}
	switch v := p.GetValue().GetValue().(type) {
	case *monitoringpb.TypedValue_DoubleValue:
		return v.DoubleValue, true
	case *monitoringpb.TypedValue_Int64Value:
		return float64(v.Int64Value), true
	default:
		return 0, false
	}
}

func seriesLabels(ts *monitoringpb.TimeSeries) map[string]string {
	labels := make(map[string]string)
	for k, v := range ts.GetResource().GetLabels() {
		labels["resource."+k] = v
	}
	for k, v := range ts.GetMetric().GetLabels() {
		labels["metric."+k] = v
	}
	return labels
}

// metricClient drains the paged iterator of the generated client
type metricClient struct {
	client *monitoring.MetricClient
}

func (c *metricClient) ListTimeSeries(ctx context.Context, req *monitoringpb.ListTimeSeriesRequest) ([]*monitoringpb.TimeSeries, error) {
	it := c.client.ListTimeSeries(ctx, req)
	var out []*monitoringpb.TimeSeries
	for {
		ts, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

func (c *metricClient) Close() error {
	return c.client.Close()
}
