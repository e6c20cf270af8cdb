package cauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot should be empty: %+v", snap)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricGuardLatency, time.Millisecond)
	if m.Enabled() || m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	observations := []time.Duration{
		20 * time.Microsecond,
		80 * time.Microsecond,
		200 * time.Microsecond,
		400 * time.Microsecond,
		900 * time.Microsecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		40 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricGuardLatency, d)
	}
	// Only the guard has a histogram.
	m.Observe(MetricLoginSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricGuardLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestEngineGuardRecordsLatency(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *Config) { c.Metrics.EnableLatencyHistograms = true })
	sess := mustRegister(t, engine, "a@x.com", "secret1")

	for i := 0; i < 5; i++ {
		if _, status := engine.Guard(context.Background(), sess.Tokens.AccessToken); status != GuardAllowed {
			t.Fatalf("guard status %v", status)
		}
	}

	snap := engine.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricGuardLatency] {
		total += v
	}
	if total != 5 {
		t.Fatalf("expected 5 latency samples, got %d", total)
	}
	if snap.Counters[MetricGuardAllowed] != 5 {
		t.Fatalf("guard allowed = %d", snap.Counters[MetricGuardAllowed])
	}
}
