// Package observability bundles the server's operational surfaces:
// Prometheus metrics, OpenTelemetry tracing, and structured logging
// with secret redaction.
//
// Metrics register with the default Prometheus registry and surface
// through promhttp. Tracing exports over OTLP gRPC when an endpoint is
// configured and degrades to a no-op otherwise, so call sites never
// branch on whether tracing is on.
package observability
