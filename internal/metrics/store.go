package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics holds metrics related to metadata store operations. It
// implements metadata.MetricsRecorder.
type StoreMetrics struct {
	// LatencyHistogram tracks operation latencies by operation and status.
	// Labels: operation (get, put, delete, scan), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total operations by operation and status.
	RequestsTotal *prometheus.CounterVec
}

// Store operation label values.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpScan   = "scan"
)

// DefaultStoreLatencyBuckets are latency buckets for metadata operations,
// which are typically sub-ms to tens of ms.
var DefaultStoreLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

// NewStoreMetrics creates and registers store metrics with the default
// registry.
func NewStoreMetrics() *StoreMetrics {
	return newStoreMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewStoreMetricsWithRegistry creates store metrics registered with a custom
// registry.
func NewStoreMetricsWithRegistry(reg prometheus.Registerer) *StoreMetrics {
	return newStoreMetrics(promauto.With(reg))
}

func newStoreMetrics(f promauto.Factory) *StoreMetrics {
	return &StoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_latency_seconds",
				Help:      "Metadata store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of metadata store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordOperation records an operation latency and increments the counter.
func (m *StoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordGet records a Get operation.
func (m *StoreMetrics) RecordGet(durationSeconds float64, success bool) {
	m.RecordOperation(OpGet, durationSeconds, success)
}

// RecordPut records a Put operation.
func (m *StoreMetrics) RecordPut(durationSeconds float64, success bool) {
	m.RecordOperation(OpPut, durationSeconds, success)
}

// RecordDelete records a Delete operation.
func (m *StoreMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.RecordOperation(OpDelete, durationSeconds, success)
}

// RecordScan records a Scan operation.
func (m *StoreMetrics) RecordScan(durationSeconds float64, success bool) {
	m.RecordOperation(OpScan, durationSeconds, success)
}
