package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func vectorResponse(values ...string) string {
	results := make([]string, 0, len(values))
	for i, v := range values {
		results = append(results, fmt.Sprintf(`{"metric":{"instance":"i%d"},"value":[1710417600,"%s"]}`, i, v))
	}
	return `{"status":"success","data":{"resultType":"vector","result":[` + strings.Join(results, ",") + `]}}`
}

func newTestAdapter(t *testing.T, url string, mutate func(*Config)) *Adapter {
	t.Helper()
	config := DefaultConfig(url)
	config.RetryDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(&config)
	}
	adapter, err := NewAdapter(config)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return adapter
}

func TestAdapter_InstantQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.FormValue("query")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, vectorResponse("9800", "200"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, nil)

	vector, err := adapter.InstantQuery(context.Background(), `sum(rate(good[5m]))`, time.Now())
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if gotQuery != `sum(rate(good[5m]))` {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if len(vector) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(vector))
	}
	if vector[0].Labels["instance"] != "i0" {
		t.Errorf("expected labels to be kept, got %v", vector[0].Labels)
	}
	if sum, ok := vector.Sum(); !ok || sum != 10000 {
		t.Errorf("expected sum 10000, got %v (ok=%v)", sum, ok)
	}
}

func TestAdapter_ScalarResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"scalar","result":[1710417600,"42"]}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, nil)

	vector, err := adapter.InstantQuery(context.Background(), "scalar(42)", time.Now())
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if sum, ok := vector.Sum(); !ok || sum != 42 {
		t.Errorf("expected 42, got %v", sum)
	}
}

func TestAdapter_ZeroResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, vectorResponse())
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, nil)

	vector, err := adapter.InstantQuery(context.Background(), "absent_metric", time.Now())
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if _, ok := vector.Sum(); ok {
		t.Errorf("expected empty vector, got %v", vector)
	}
}

func TestAdapter_RangeQuery(t *testing.T) {
	var gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotStep = r.FormValue("step")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"code":"200"},"values":[[1710374400,"990"],[1710460800,"995"]]},
			{"metric":{"code":"201"},"values":[[1710374400,"9"],[1710460800,"4"]]}
		]}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, nil)

	start := time.Unix(1710374400, 0)
	matrix, err := adapter.RangeQuery(context.Background(), "sum(increase(good[1d]))", start, start.Add(24*time.Hour), 24*time.Hour)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if gotStep != "86400" {
		t.Errorf("expected step 86400, got %q", gotStep)
	}
	if len(matrix) != 2 || len(matrix[0].Points) != 2 {
		t.Fatalf("unexpected matrix: %+v", matrix)
	}
	sums := matrix.SumByTimestamp()
	if sums[1710374400] != 999 || sums[1710460800] != 999 {
		t.Errorf("unexpected sums: %v", sums)
	}
}

func TestAdapter_Retry(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)

		// Fail first attempt, succeed on second
		if count == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, vectorResponse("42"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, func(c *Config) { c.RetryCount = 1 })

	vector, err := adapter.InstantQuery(context.Background(), "test_metric", time.Now())
	if err != nil {
		t.Fatalf("expected success after retry, got error: %v", err)
	}

	if sum, _ := vector.Sum(); sum != 42 {
		t.Errorf("expected value=42, got %f", sum)
	}

	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestAdapter_BadQueryNotRetried(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error at char 5"}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, func(c *Config) { c.RetryCount = 3 })

	_, err := adapter.InstantQuery(context.Background(), "sum(", time.Now())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "parse error") {
		t.Errorf("expected the server message, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestAdapter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Delay longer than timeout
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, vectorResponse("1"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, func(c *Config) {
		c.Timeout = 50 * time.Millisecond
		c.RetryCount = 0
	})

	_, err := adapter.InstantQuery(context.Background(), "test_metric", time.Now())
	if err == nil {
		t.Error("expected timeout error, got nil")
	}
}

func TestAdapter_Concurrency(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&concurrent, 1)
		defer atomic.AddInt32(&concurrent, -1)

		// Track max concurrent requests
		for {
			max := atomic.LoadInt32(&maxConcurrent)
			if current <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, current) {
				break
			}
		}

		// Simulate some work
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, vectorResponse("1"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, func(c *Config) {
		c.MaxConcurrency = 3
		c.Timeout = 5 * time.Second
	})

	// Launch 10 concurrent queries
	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			_, err := adapter.InstantQuery(context.Background(), fmt.Sprintf("metric_%d", id), time.Now())
			done <- err
		}(i)
	}

	// Wait for all queries
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Errorf("query %d failed: %v", i, err)
		}
	}

	max := atomic.LoadInt32(&maxConcurrent)
	if max > 3 {
		t.Errorf("max concurrent requests (%d) exceeded limit (3)", max)
	}

	t.Logf("Max concurrent requests: %d (limit: 3)", max)
}

func TestNewAdapter_RequiresURL(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
}
