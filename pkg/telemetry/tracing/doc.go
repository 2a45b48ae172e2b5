// Package tracing provides OpenTelemetry span creation for the request
// pipeline (auth, rate_limit, routing, proxy_forward) with OTLP gRPC
// export, plus a bounded in-memory buffer of completed request traces
// served by the analytics endpoint.
package tracing
