// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for expiryd including:
//   - Sweep runs by status, run duration, and a 0/1 gauge for the last run
//   - Buckets scanned, pages fetched, records expired
//   - Version conflicts and missing records seen during sweeps
//   - Expiry event publish failures
//   - Metadata store operation latency and counts by operation and status
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	sweepMetrics := metrics.NewSweepMetrics()
//	storeMetrics := metrics.NewStoreMetrics()
//
//	meta := metadata.NewInstrumentedStore(backend, storeMetrics)
//	sweeper.SetObserver(sweepMetrics)
//	worker.SetRunRecorder(sweepMetrics)
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const namespace = "expiryd"
