// Package prometheus renders cauth engine metrics in the Prometheus text
// exposition format.
//
// Counters are named cauth_*_total and the guard latency histogram is
// cauth_guard_latency_seconds. The exporter never touches a global
// registry; mount Handler wherever /metrics should live.
package prometheus
