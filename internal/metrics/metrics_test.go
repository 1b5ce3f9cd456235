package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveEvaluation(t *testing.T) {
	before := testutil.ToFloat64(evaluationsTotal.WithLabelValues("metrics-test", OutcomeNoData))
	ObserveEvaluation("metrics-test", 10*time.Millisecond, OutcomeNoData)
	after := testutil.ToFloat64(evaluationsTotal.WithLabelValues("metrics-test", OutcomeNoData))

	if after-before != 1 {
		t.Errorf("expected no_data counter to increase by 1, got %v", after-before)
	}

	// Unknown outcomes fold into success
	before = testutil.ToFloat64(evaluationsTotal.WithLabelValues("metrics-test", OutcomeSuccess))
	ObserveEvaluation("metrics-test", -time.Second, "weird")
	after = testutil.ToFloat64(evaluationsTotal.WithLabelValues("metrics-test", OutcomeSuccess))
	if after-before != 1 {
		t.Errorf("expected success counter to increase by 1, got %v", after-before)
	}
}

func TestSetBudgetAndForget(t *testing.T) {
	SetBudget("forget-me", 1.5, 0)
	SetBurnRate("forget-me", "5m", 14.4)

	if got := testutil.ToFloat64(budgetConsumedRatio.WithLabelValues("forget-me")); got != 1.5 {
		t.Errorf("expected consumed 1.5, got %v", got)
	}

	ForgetSLO("forget-me")
	if n := testutil.CollectAndCount(burnRate); n != 0 {
		t.Errorf("expected burn rate series to be removed, got %d", n)
	}
}
