package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		out[fam.GetName()] = fam
	}
	return out
}

func counterValue(fam *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range fam.GetMetric() {
		matched := true
		for _, pair := range m.GetLabel() {
			if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
				matched = false
				break
			}
		}
		if matched {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics_ImplementsInterface(t *testing.T) {
	var _ entitlement.Metrics = NewMetrics(prometheus.NewRegistry(), "test")
}

func TestMetrics_RecordUnlock(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordUnlock("chart", "pro", "granted", 10*time.Millisecond)
	m.RecordUnlock("chart", "pro", "granted", 20*time.Millisecond)
	m.RecordUnlock("chart", "free", "insufficient", 5*time.Millisecond)

	fams := gather(t, reg)

	unlocks := fams["test_unlocks_total"]
	if unlocks == nil {
		t.Fatal("Expected test_unlocks_total")
	}
	if got := counterValue(unlocks, map[string]string{"component": "chart", "tier": "pro", "outcome": "granted"}); got != 2 {
		t.Errorf("Expected 2 granted unlocks, got %v", got)
	}
	if got := counterValue(unlocks, map[string]string{"outcome": "insufficient"}); got != 1 {
		t.Errorf("Expected 1 insufficient unlock, got %v", got)
	}

	duration := fams["test_unlock_duration_seconds"]
	if duration == nil {
		t.Fatal("Expected test_unlock_duration_seconds")
	}
	if got := duration.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("Expected 3 duration samples, got %d", got)
	}
}

func TestMetrics_RecordCharge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordCharge("chart", "pro", 10, true)
	m.RecordCharge("chart", "pro", 10, false)

	fams := gather(t, reg)

	charges := fams["test_credit_charges_total"]
	if got := counterValue(charges, map[string]string{"success": "true"}); got != 1 {
		t.Errorf("Expected 1 successful charge, got %v", got)
	}
	if got := counterValue(charges, map[string]string{"success": "false"}); got != 1 {
		t.Errorf("Expected 1 failed charge, got %v", got)
	}

	// Only the successful charge lands in the amount histogram
	amounts := fams["test_credit_charge_amount"]
	if got := amounts.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("Expected 1 amount sample, got %d", got)
	}
	if got := amounts.GetMetric()[0].GetHistogram().GetSampleSum(); got != 10 {
		t.Errorf("Expected amount sum 10, got %v", got)
	}
}

func TestMetrics_RecordSweepAndStorage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordSweep(3, time.Millisecond)
	m.RecordSweep(0, time.Millisecond)
	m.RecordStorageOperation("charge", time.Millisecond, nil)
	m.RecordStorageOperation("charge", time.Millisecond, errors.New("down"))
	m.RecordCircuitBreakerStateChange("open")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordSessionQuery(time.Millisecond)

	fams := gather(t, reg)

	if got := fams["test_sweep_expired_sessions_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("Expected 3 swept sessions, got %v", got)
	}
	if got := counterValue(fams["test_storage_operation_errors_total"], map[string]string{"operation": "charge"}); got != 1 {
		t.Errorf("Expected 1 storage error, got %v", got)
	}
	if got := fams["test_storage_operation_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("Expected 2 storage samples, got %v", got)
	}
	if got := counterValue(fams["test_circuit_breaker_state_changes_total"], map[string]string{"state": "open"}); got != 1 {
		t.Errorf("Expected 1 state change, got %v", got)
	}
	if got := fams["test_mirror_cache_hits_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := fams["test_mirror_cache_misses_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("Expected 2 cache misses, got %v", got)
	}
}
