package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/consentframework/expiryd/internal/expiry"
)

// SweepMetrics holds metrics for expiry sweep runs. It is both an
// expiry.Observer and an expiry.RunRecorder.
type SweepMetrics struct {
	// RunsTotal counts finished runs by status (success, failure).
	RunsTotal *prometheus.CounterVec

	// LastRunFailed is 1 when the most recent run failed and 0 otherwise.
	LastRunFailed prometheus.Gauge

	// LastSuccessTimestamp is the unix time of the last successful run.
	LastSuccessTimestamp prometheus.Gauge

	// RunDuration tracks how long runs take.
	RunDuration prometheus.Histogram

	BucketsScanned        prometheus.Counter
	PagesFetched          prometheus.Counter
	RecordsExpired        prometheus.Counter
	VersionConflicts      prometheus.Counter
	RecordsMissing        prometheus.Counter
	EventsPublishFailures prometheus.Counter
}

// DefaultRunDurationBuckets cover runs from under a second to the default
// 15 minute run timeout.
var DefaultRunDurationBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900}

// NewSweepMetrics creates and registers sweep metrics with the default
// registry.
func NewSweepMetrics() *SweepMetrics {
	return newSweepMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewSweepMetricsWithRegistry creates sweep metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewSweepMetricsWithRegistry(reg prometheus.Registerer) *SweepMetrics {
	return newSweepMetrics(promauto.With(reg))
}

func newSweepMetrics(f promauto.Factory) *SweepMetrics {
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      name,
			Help:      help,
		})
	}

	return &SweepMetrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "runs_total",
				Help:      "Total number of sweep runs, broken down by status.",
			},
			[]string{"status"},
		),
		LastRunFailed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_failed",
			Help:      "1 if the most recent sweep run failed, 0 otherwise.",
		}),
		LastSuccessTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sweep run.",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "run_duration_seconds",
			Help:      "Sweep run duration in seconds.",
			Buckets:   DefaultRunDurationBuckets,
		}),
		BucketsScanned:        counter("buckets_scanned_total", "Total number of buckets scanned."),
		PagesFetched:          counter("pages_fetched_total", "Total number of candidate pages fetched."),
		RecordsExpired:        counter("records_expired_total", "Total number of records transitioned to expired."),
		VersionConflicts:      counter("version_conflicts_total", "Total number of expiries skipped because the record changed concurrently."),
		RecordsMissing:        counter("records_missing_total", "Total number of candidates that no longer existed or were already expired."),
		EventsPublishFailures: counter("events_publish_failures_total", "Total number of expiry events that could not be published."),
	}
}

// Observe implements expiry.Observer.
func (m *SweepMetrics) Observe(_ context.Context, ev expiry.Event) {
	switch ev.Kind {
	case expiry.EventBucketStarted:
		m.BucketsScanned.Inc()
	case expiry.EventPageFetched:
		m.PagesFetched.Inc()
	case expiry.EventRecordExpired:
		m.RecordsExpired.Inc()
	case expiry.EventVersionConflict:
		m.VersionConflicts.Inc()
	case expiry.EventRecordMissing:
		m.RecordsMissing.Inc()
	}
}

// RecordRun implements expiry.RunRecorder.
func (m *SweepMetrics) RecordRun(r expiry.RunResult) {
	m.RunDuration.Observe(r.Duration.Seconds())
	if r.Failed() {
		m.RunsTotal.WithLabelValues(StatusFailure).Inc()
		m.LastRunFailed.Set(1)
		return
	}
	m.RunsTotal.WithLabelValues(StatusSuccess).Inc()
	m.LastRunFailed.Set(0)
	m.LastSuccessTimestamp.Set(float64(r.Started.Add(r.Duration).Unix()))
}

// RecordPublishFailure counts an expiry event that could not be published.
func (m *SweepMetrics) RecordPublishFailure() {
	m.EventsPublishFailures.Inc()
}
