package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the broker's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "compute_broker",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compute_broker",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "compute_broker",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compute_broker",
			Subsystem: "orchestrator",
			Name:      "provider_attempts_total",
			Help:      "Total provider attempts by outcome and failure kind.",
		},
		[]string{"outcome", "kind"},
	)

	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "compute_broker",
			Subsystem: "orchestrator",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual provider attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"outcome"},
	)

	failovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "compute_broker",
			Subsystem: "orchestrator",
			Name:      "failovers_total",
			Help:      "Total transitions to the next candidate provider.",
		},
	)

	fundingAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "compute_broker",
			Subsystem: "ledger",
			Name:      "funding_attempts_total",
			Help:      "Total top-up calls issued against the ledger.",
		},
	)

	ledgerBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "compute_broker",
			Subsystem: "ledger",
			Name:      "balance_base_units",
			Help:      "Last observed spendable ledger balance in base units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		providerAttempts,
		attemptDuration,
		failovers,
		fundingAttempts,
		ledgerBalance,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight increments the in-flight HTTP request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight decrements the in-flight HTTP request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAttempt records one provider attempt. kind is empty on success.
func RecordAttempt(outcome, kind string, duration time.Duration) {
	providerAttempts.WithLabelValues(outcome, kind).Inc()
	attemptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFailover counts a transition to the next candidate.
func RecordFailover() { failovers.Inc() }

// RecordFundingAttempt counts a top-up call.
func RecordFundingAttempt() { fundingAttempts.Inc() }

// SetLedgerBalance records the last observed spendable balance.
func SetLedgerBalance(baseUnits int64) { ledgerBalance.Set(float64(baseUnits)) }
