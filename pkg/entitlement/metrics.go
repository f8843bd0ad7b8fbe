package entitlement

import "time"

// Metrics defines the interface for tracking unlock operations and performance.
type Metrics interface {
	// RecordUnlock records an unlock attempt. Outcome is one of
	// "granted", "existing", "insufficient", "forbidden", "error".
	RecordUnlock(component, tier, outcome string, duration time.Duration)

	// RecordCharge records a credit charge attempt and its amount.
	RecordCharge(component, tier string, amount int, success bool)

	// RecordSessionQuery records the duration of an active-sessions query.
	RecordSessionQuery(duration time.Duration)

	// RecordSweep records a sweeper pass and how many sessions it expired.
	RecordSweep(expired int, duration time.Duration)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordCacheHit records a mirror-cache hit.
	RecordCacheHit()

	// RecordCacheMiss records a mirror-cache miss.
	RecordCacheMiss()
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordUnlock(component, tier, outcome string, duration time.Duration)       {}
func (n *NoopMetrics) RecordCharge(component, tier string, amount int, success bool)              {}
func (n *NoopMetrics) RecordSessionQuery(duration time.Duration)                                  {}
func (n *NoopMetrics) RecordSweep(expired int, duration time.Duration)                            {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordCacheHit()                                                            {}
func (n *NoopMetrics) RecordCacheMiss()                                                           {}
