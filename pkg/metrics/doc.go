/*
Package metrics defines Ferry's Prometheus instrumentation.

Metrics are package-level collectors registered at init and exposed on
the HTTP surface at /metrics via Handler. Naming follows the ferry_
prefix convention: session gauges, queue counters, execution lifecycle
counters, telemetry ingestion counters, and API request histograms.
*/
package metrics
