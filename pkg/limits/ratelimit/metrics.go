package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the rate limiter.
// Keys are deliberately not used as labels to keep cardinality bounded.
type Metrics struct {
	// Admission checks by result (allowed, denied, fail_open)
	checks *prometheus.CounterVec

	// Units of quota spent
	consumed prometheus.Counter

	// Block entries created
	blocks prometheus.Counter

	// Store failures by operation
	storeErrors *prometheus.CounterVec

	// Check latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates rate limiter metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_ratelimit_checks_total",
				Help: "Total number of rate limit admission checks performed",
			},
			[]string{"result"},
		),

		consumed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ratelimit_consumed_total",
				Help: "Total number of quota units consumed",
			},
		),

		blocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ratelimit_blocks_total",
				Help: "Total number of keys blocked after exceeding their quota",
			},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_ratelimit_store_errors_total",
				Help: "Total number of counter store failures",
			},
			[]string{"operation"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_ratelimit_check_duration_seconds",
				Help:    "Duration of rate limiter operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
			[]string{"operation"},
		),
	}
}

// RecordCheck records an admission check.
func (m *Metrics) RecordCheck(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}

// RecordConsume records a spent unit of quota.
func (m *Metrics) RecordConsume() {
	if m == nil {
		return
	}
	m.consumed.Inc()
}

// RecordBlock records a newly created block entry.
func (m *Metrics) RecordBlock() {
	if m == nil {
		return
	}
	m.blocks.Inc()
}

// RecordStoreError records a counter store failure.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RecordCheckDuration records the duration of a limiter operation.
func (m *Metrics) RecordCheckDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}
