// Package otel publishes cauth engine metrics through an OpenTelemetry
// meter supplied by the caller. Counters become observable counters and
// each histogram bucket becomes an observable gauge, all fed from one
// snapshot per collection.
package otel
