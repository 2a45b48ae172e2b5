// Package metrics provides the Prometheus collectors for the gateway:
// authentication events, request durations, rate-limit decisions, tool
// calls, classified errors, and connection gauges.
package metrics
