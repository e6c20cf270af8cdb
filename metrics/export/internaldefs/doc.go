// Package internaldefs holds the metric names and histogram bounds shared by
// the Prometheus and OpenTelemetry exporters, so both expose identical
// series. It imports only the root cauth package and does no I/O.
package internaldefs
