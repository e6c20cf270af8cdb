package cauth

import (
	"sync/atomic"
	"time"
)

// MetricID names one counter or histogram.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricRegisterInvalidRole
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricOTPRequested
	MetricOTPRequestRateLimited
	MetricOTPLoginSuccess
	MetricOTPLoginFailure
	MetricOTPVerifySuccess
	MetricOTPVerifyFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReplayRejected
	MetricLogout
	MetricLogoutFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricGuardAllowed
	MetricGuardUnauthorized
	MetricGuardForbidden
	MetricInvalidInput
	MetricSchemaViolation
	MetricBackendError
	MetricGuardLatency
	metricIDCount
)

// guardLatencyBounds are the inclusive upper bounds of every histogram
// bucket but the last, which takes everything slower.
var guardLatencyBounds = [...]time.Duration{
	50 * time.Microsecond,
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
}

const latencyBuckets = len(guardLatencyBounds) + 1

// counter sits alone on a cache line so hot counters do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a set of lock-free counters plus a guard latency histogram.
// All methods are safe for concurrent use and on a nil receiver.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [metricIDCount]counter
	guard    [latencyBuckets]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every metric.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled, latency: cfg.Enabled && cfg.EnableLatencyHistograms}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m.Enabled() && id < metricIDCount {
		m.counters[id].Add(1)
	}
}

// Observe records a latency sample. Only MetricGuardLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricGuardLatency || !m.LatencyEnabled() {
		return
	}
	m.guard[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies the current values. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	if !m.Enabled() {
		return s
	}
	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, latencyBuckets)
		for i := range buckets {
			buckets[i] = m.guard[i].Load()
		}
		s.Histograms[MetricGuardLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range guardLatencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(guardLatencyBounds)
}
