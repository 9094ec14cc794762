// Package internaldefs holds the metric names and bucket boundaries shared by
// the exporter packages. Both the Prometheus and OTel surfaces read from here,
// so the two can never drift apart on naming.
package internaldefs
