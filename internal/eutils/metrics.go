package eutils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels a finished upstream call for metrics.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeClientError    Outcome = "client_error"
	OutcomeServerError    Outcome = "server_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeCircuitOpen    Outcome = "circuit_open"
	OutcomeCanceled       Outcome = "canceled"
)

// MetricsPrefix is the namespace prefix for all harvester metrics.
const MetricsPrefix = "genome_harvester_"

// Metrics records every upstream call as an observable event (duration,
// attempt count, outcome). The client emits these instead of logging.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	callAttempts *prometheus.HistogramVec
}

// NewMetrics registers the upstream-call metrics on the given registerer.
// A nil registerer uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	callsTotalOpts := prometheus.CounterOpts{
		Name: MetricsPrefix + "upstream_calls_total",
		Help: "Number of upstream calls grouped by endpoint and outcome",
	}
	callDurationOpts := prometheus.HistogramOpts{
		Name:    MetricsPrefix + "upstream_call_duration_seconds",
		Help:    "Duration of upstream calls including retries and backoff",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}
	callAttemptsOpts := prometheus.HistogramOpts{
		Name:    MetricsPrefix + "upstream_call_attempts",
		Help:    "Attempts made per upstream call",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
	}
	return &Metrics{
		callsTotal:   factory.NewCounterVec(callsTotalOpts, []string{"endpoint", "outcome"}),
		callDuration: factory.NewHistogramVec(callDurationOpts, []string{"endpoint", "outcome"}),
		callAttempts: factory.NewHistogramVec(callAttemptsOpts, []string{"endpoint"}),
	}
}

// ObserveCall records one finished call.
func (m *Metrics) ObserveCall(endpoint string, outcome Outcome, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"endpoint": endpoint, "outcome": string(outcome)}
	m.callsTotal.With(labels).Inc()
	m.callDuration.With(labels).Observe(duration.Seconds())
	m.callAttempts.With(prometheus.Labels{"endpoint": endpoint}).Observe(float64(attempts))
}
