package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore implements MetadataStore for testing.
// It is exported so that tests in other packages can use it.
type MockStore struct {
	mu       sync.RWMutex
	data     map[string]KV
	closed   bool
	nextVer  Version
	closeErr error

	// errs injects a failure for the named operation ("get", "put",
	// "delete", "scan"). Injected errors are sticky until cleared.
	errs map[string]error

	// beforePut runs (without the lock held) ahead of every Put. Tests use
	// it to simulate a concurrent writer racing the caller.
	beforePut func(key string)

	scanCalls int
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		data:    make(map[string]KV),
		nextVer: 1,
		errs:    make(map[string]error),
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// BeforePut installs a hook invoked ahead of every Put.
func (m *MockStore) BeforePut(fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforePut = fn
}

// ScanCallCount returns the number of times Scan was called.
func (m *MockStore) ScanCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanCalls
}

// Len returns the number of keys held by the store.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	if err := m.errs["get"]; err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.RLock()
	hook := m.beforePut
	m.mu.RUnlock()
	if hook != nil {
		hook(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if err := m.errs["put"]; err != nil {
		return 0, err
	}

	if expected := ExtractExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok && *expected != 0 {
			return 0, ErrVersionMismatch
		}
		if ok && existing.Version != *expected {
			return 0, ErrVersionMismatch
		}
	}

	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	return ver, nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if err := m.errs["delete"]; err != nil {
		return err
	}

	if expected := ExtractDeleteExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok {
			return nil // Idempotent delete
		}
		if existing.Version != *expected {
			return ErrVersionMismatch
		}
	}

	delete(m.data, key)
	return nil
}

func (m *MockStore) Scan(_ context.Context, prefix, afterKey string, limit int) ([]KV, error) {
	m.mu.Lock()
	m.scanCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if err := m.errs["scan"]; err != nil {
		return nil, err
	}

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) && k > afterKey {
			keys = append(keys, k)
		}
	}

	// Sort lexicographically to match MetadataStore contract
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.closeErr
}

// Ensure MockStore implements MetadataStore
var _ MetadataStore = (*MockStore)(nil)
