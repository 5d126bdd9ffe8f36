package metadata

import (
	"context"
	"errors"
	"testing"
)

// mockMetricsRecorder tracks calls for testing.
type mockMetricsRecorder struct {
	getCalls    []recordedCall
	putCalls    []recordedCall
	deleteCalls []recordedCall
	scanCalls   []recordedCall
}

type recordedCall struct {
	duration float64
	success  bool
}

func (m *mockMetricsRecorder) RecordGet(duration float64, success bool) {
	m.getCalls = append(m.getCalls, recordedCall{duration, success})
}

func (m *mockMetricsRecorder) RecordPut(duration float64, success bool) {
	m.putCalls = append(m.putCalls, recordedCall{duration, success})
}

func (m *mockMetricsRecorder) RecordDelete(duration float64, success bool) {
	m.deleteCalls = append(m.deleteCalls, recordedCall{duration, success})
}

func (m *mockMetricsRecorder) RecordScan(duration float64, success bool) {
	m.scanCalls = append(m.scanCalls, recordedCall{duration, success})
}

func TestInstrumentedStoreRecordsOperations(t *testing.T) {
	inner := NewMockStore()
	rec := &mockMetricsRecorder{}
	store := NewInstrumentedStore(inner, rec)
	ctx := context.Background()

	v, err := store.Put(ctx, "/k", []byte("v"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, "/k"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := store.Scan(ctx, "/", "", 0); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := store.Delete(ctx, "/k", WithDeleteExpectedVersion(v)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(rec.putCalls) != 1 || !rec.putCalls[0].success {
		t.Errorf("expected 1 successful put, got %+v", rec.putCalls)
	}
	if len(rec.getCalls) != 1 || !rec.getCalls[0].success {
		t.Errorf("expected 1 successful get, got %+v", rec.getCalls)
	}
	if len(rec.scanCalls) != 1 || !rec.scanCalls[0].success {
		t.Errorf("expected 1 successful scan, got %+v", rec.scanCalls)
	}
	if len(rec.deleteCalls) != 1 || !rec.deleteCalls[0].success {
		t.Errorf("expected 1 successful delete, got %+v", rec.deleteCalls)
	}
}

func TestInstrumentedStoreVersionMismatchIsNotAFailure(t *testing.T) {
	inner := NewMockStore()
	rec := &mockMetricsRecorder{}
	store := NewInstrumentedStore(inner, rec)
	ctx := context.Background()

	if _, err := store.Put(ctx, "/k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := store.Put(ctx, "/k", []byte("w"), WithExpectedVersion(99))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if !rec.putCalls[1].success {
		t.Error("version mismatch should be recorded as success")
	}
}

func TestInstrumentedStoreRecordsFailures(t *testing.T) {
	inner := NewMockStore()
	inner.FailOn("get", errors.New("unavailable"))
	rec := &mockMetricsRecorder{}
	store := NewInstrumentedStore(inner, rec)

	if _, err := store.Get(context.Background(), "/k"); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.getCalls) != 1 || rec.getCalls[0].success {
		t.Errorf("expected 1 failed get, got %+v", rec.getCalls)
	}
}

func TestInstrumentedStoreNilMetrics(t *testing.T) {
	store := NewInstrumentedStore(NewMockStore(), nil)
	ctx := context.Background()

	if _, err := store.Put(ctx, "/k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, "/k"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
