// Package metrics exposes Prometheus instrumentation and component
// health aggregation for the search service.
package metrics
