// Package prommetrics implements entitlement.Metrics using Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	unlocksTotal               *prometheus.CounterVec
	unlockDuration             *prometheus.HistogramVec
	chargesTotal               *prometheus.CounterVec
	chargeAmount               *prometheus.HistogramVec
	sessionQueryDuration       prometheus.Histogram
	sweepExpiredTotal          prometheus.Counter
	sweepDuration              prometheus.Histogram
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	cacheHitsTotal             prometheus.Counter
	cacheMissesTotal           prometheus.Counter
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		unlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlocks_total",
			Help:      "Total number of unlock requests by outcome.",
		}, []string{"component", "tier", "outcome"}),

		unlockDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unlock_duration_seconds",
			Help:      "Latency of unlock requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),

		chargesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_charges_total",
			Help:      "Total number of credit charge attempts.",
		}, []string{"component", "tier", "success"}),

		chargeAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_charge_amount",
			Help:      "Distribution of charged credit amounts.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}, []string{"component", "tier"}),

		sessionQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_query_duration_seconds",
			Help:      "Latency of active-session queries.",
			Buckets:   prometheus.DefBuckets,
		}),

		sweepExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expired_sessions_total",
			Help:      "Total number of sessions the sweeper transitioned to expired.",
		}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Latency of sweeper passes.",
			Buckets:   prometheus.DefBuckets,
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_cache_hits_total",
			Help:      "Total number of mirror-cache hits.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_cache_misses_total",
			Help:      "Total number of mirror-cache misses.",
		}),
	}
}

func (m *Metrics) RecordUnlock(component, tier, outcome string, duration time.Duration) {
	m.unlocksTotal.WithLabelValues(component, tier, outcome).Inc()
	m.unlockDuration.WithLabelValues(component).Observe(duration.Seconds())
}

func (m *Metrics) RecordCharge(component, tier string, amount int, success bool) {
	m.chargesTotal.WithLabelValues(component, tier, strconv.FormatBool(success)).Inc()
	if success {
		m.chargeAmount.WithLabelValues(component, tier).Observe(float64(amount))
	}
}

func (m *Metrics) RecordSessionQuery(duration time.Duration) {
	m.sessionQueryDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSweep(expired int, duration time.Duration) {
	m.sweepExpiredTotal.Add(float64(expired))
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}
