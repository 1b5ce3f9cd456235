package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels evaluations that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels evaluations that failed against the backend.
	OutcomeError = "error"
	// OutcomeNoData labels evaluations that held state for lack of data.
	OutcomeNoData = "no_data"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "evaluations_total",
			Help:      "Total number of SLO evaluations, partitioned by SLO and outcome.",
		},
		[]string{"slo", "outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aegis",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of one SLO evaluation cycle in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"slo"},
	)

	alertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "alert_transitions_total",
			Help:      "Burn rate alert state transitions.",
		},
		[]string{"slo", "severity", "state"},
	)

	notificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		},
		[]string{"notifier"},
	)

	budgetRemainingRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "error_budget_remaining_ratio",
			Help:      "Remaining error budget over the compliance window (0-1).",
		},
		[]string{"slo"},
	)

	budgetConsumedRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "error_budget_consumed_ratio",
			Help:      "Consumed error budget over the compliance window, unclamped.",
		},
		[]string{"slo"},
	)

	burnRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "burn_rate",
			Help:      "Latest burn rate per SLO and window.",
		},
		[]string{"slo", "window"},
	)

	policyLoadErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "policy_load_errors",
			Help:      "Configuration errors in the current policy snapshot.",
		},
	)

	policyReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "policy_reloads_total",
			Help:      "Policy reloads, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	activeSLOs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "active_slos",
			Help:      "SLOs currently scheduled for evaluation.",
		},
	)
)

// Register attaches aegis collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		alertTransitionsTotal,
		notificationFailuresTotal,
		budgetRemainingRatio,
		budgetConsumedRatio,
		burnRate,
		policyLoadErrors,
		policyReloadsTotal,
		activeSLOs,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one evaluation cycle of an SLO.
func ObserveEvaluation(slo string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeNoData:
	default:
		outcome = OutcomeSuccess
	}
	evaluationsTotal.WithLabelValues(slo, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.WithLabelValues(slo).Observe(duration.Seconds())
}

// ObserveTransition counts an alert entering state.
func ObserveTransition(slo, severity, state string) {
	alertTransitionsTotal.WithLabelValues(slo, severity, state).Inc()
}

// ObserveNotificationFailure counts a failed delivery.
func ObserveNotificationFailure(notifier string) {
	notificationFailuresTotal.WithLabelValues(notifier).Inc()
}

// SetBudget publishes the latest budget of an SLO.
func SetBudget(slo string, consumed, remaining float64) {
	budgetConsumedRatio.WithLabelValues(slo).Set(consumed)
	budgetRemainingRatio.WithLabelValues(slo).Set(remaining)
}

// SetBurnRate publishes the latest burn rate of an SLO over window.
func SetBurnRate(slo, window string, value float64) {
	burnRate.WithLabelValues(slo, window).Set(value)
}

// ObservePolicyReload records a reload and the error count of the resulting snapshot.
func ObservePolicyReload(outcome string, configErrors int) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	policyReloadsTotal.WithLabelValues(outcome).Inc()
	policyLoadErrors.Set(float64(configErrors))
}

// SetActiveSLOs publishes the number of scheduled SLOs.
func SetActiveSLOs(n int) {
	activeSLOs.Set(float64(n))
}

// ForgetSLO drops the per-SLO series of a removed SLO.
func ForgetSLO(slo string) {
	budgetRemainingRatio.DeleteLabelValues(slo)
	budgetConsumedRatio.DeleteLabelValues(slo)
	burnRate.DeletePartialMatch(prometheus.Labels{"slo": slo})
}
