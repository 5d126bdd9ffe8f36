package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/consentframework/expiryd/internal/metadata"
)

var _ metadata.MetricsRecorder = (*StoreMetrics)(nil)

func TestNewStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegistry(reg)

	// Only observed series show up in Gather.
	m.RecordGet(0.001, true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedNames := map[string]bool{
		"expiryd_store_operation_latency_seconds": false,
		"expiryd_store_operations_total":          false,
	}
	for _, mf := range mfs {
		if _, ok := expectedNames[mf.GetName()]; ok {
			expectedNames[mf.GetName()] = true
		}
	}
	for name, found := range expectedNames {
		if !found {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestStoreMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegistry(reg)

	m.RecordGet(0.001, true)
	m.RecordGet(0.002, true)
	m.RecordPut(0.004, false)
	m.RecordDelete(0.001, true)
	m.RecordScan(0.010, true)

	tests := []struct {
		operation string
		status    string
		want      float64
	}{
		{OpGet, StatusSuccess, 2},
		{OpGet, StatusFailure, 0},
		{OpPut, StatusFailure, 1},
		{OpPut, StatusSuccess, 0},
		{OpDelete, StatusSuccess, 1},
		{OpScan, StatusSuccess, 1},
	}
	for _, tc := range tests {
		got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tc.operation, tc.status))
		if got != tc.want {
			t.Errorf("%s/%s count = %v, want %v", tc.operation, tc.status, got, tc.want)
		}
	}

	if n := testutil.CollectAndCount(m.LatencyHistogram); n != 5 {
		t.Errorf("expected 5 latency series, got %d", n)
	}
}
