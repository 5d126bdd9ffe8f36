package metadata

import (
	"context"
	"errors"
	"time"
)

// MetricsRecorder is the interface for recording store operation metrics.
// This allows the metadata package to be decoupled from the metrics package.
type MetricsRecorder interface {
	RecordGet(durationSeconds float64, success bool)
	RecordPut(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
	RecordScan(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a MetadataStore and records metrics for each operation.
type InstrumentedStore struct {
	store   MetadataStore
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a MetadataStore.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store MetadataStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// A CAS rejection is an expected outcome, not a failed request.
func succeeded(err error) bool {
	return err == nil || errors.Is(err, ErrVersionMismatch)
}

// Get retrieves a value by key.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordGet(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

// Put stores a value with optional version checking for CAS operations.
func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), succeeded(err))
	}
	return v, err
}

// Delete removes a key.
func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), succeeded(err))
	}
	return err
}

// Scan returns keys under prefix after afterKey.
func (s *InstrumentedStore) Scan(ctx context.Context, prefix, afterKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.Scan(ctx, prefix, afterKey, limit)
	if s.metrics != nil {
		s.metrics.RecordScan(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

// Close releases resources held by the store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Ensure InstrumentedStore implements MetadataStore.
var _ MetadataStore = (*InstrumentedStore)(nil)
