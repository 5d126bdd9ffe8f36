// Package metadata defines the MetadataStore interface used to persist
// consents and their expiry index. Two backends are provided: Oxia for
// shared production deployments and Pebble for single-node use.
//
// The store offers versioned keys with compare-and-set writes, which is the
// only concurrency primitive the expiry sweep relies on. Every write bumps
// the key's version; a write carrying an expected version fails with
// ErrVersionMismatch if another writer got there first.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrVersionMismatch is returned when the expected version does not match
	// the current version during a CAS (compare-and-set) operation.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version represents a key's version in the metadata store.
// Versions are monotonically increasing and can be used for
// optimistic concurrency control via compare-and-set operations.
//
// A zero version indicates the key has never been written.
type Version int64

// NoVersion is a sentinel value indicating no version constraint.
const NoVersion Version = -1

// KV represents a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	expectedVersion *Version
}

// WithExpectedVersion specifies the expected version for a CAS operation.
// If the current version does not match, the Put will fail with ErrVersionMismatch.
// Version 0 requires that the key does not exist yet.
func WithExpectedVersion(v Version) PutOption {
	return func(o *putOptions) {
		o.expectedVersion = &v
	}
}

// DeleteOption configures a Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion specifies the expected version for a conditional delete.
// If the current version does not match, the Delete will fail with ErrVersionMismatch.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractExpectedVersion extracts the expected version from Put options.
// Returns nil if no expected version was specified.
func ExtractExpectedVersion(opts []PutOption) *Version {
	var pOpts putOptions
	for _, opt := range opts {
		opt(&pOpts)
	}
	return pOpts.expectedVersion
}

// ExtractDeleteExpectedVersion extracts the expected version from Delete options.
// Returns nil if no expected version was specified.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var dOpts deleteOptions
	for _, opt := range opts {
		opt(&dOpts)
	}
	return dOpts.expectedVersion
}

// MetadataStore is the interface for metadata storage operations.
//
// All operations accept a context.Context for cancellation and timeouts.
// Implementations never hold locks across calls; every write is atomic on
// its own key.
//
// Example usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "expiryd",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	res, err := store.Get(ctx, "/expiryd/v1/consents/abc")
//	if err != nil {
//	    return err
//	}
//	_, err = store.Put(ctx, "/expiryd/v1/consents/abc", updated,
//	    metadata.WithExpectedVersion(res.Version))
//	if errors.Is(err, metadata.ErrVersionMismatch) {
//	    // someone else wrote first
//	}
type MetadataStore interface {
	// Get retrieves a value by key.
	// Returns GetResult with Exists=false if the key does not exist (not an error).
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value, optionally with version checking for CAS operations.
	// Returns the new version assigned to the key.
	//
	// Use WithExpectedVersion to require a specific version for the update.
	// If the version does not match, returns ErrVersionMismatch.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key, optionally with version checking.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// Scan returns keys that start with prefix and sort strictly after
	// afterKey, in ascending key order. An empty afterKey starts at the
	// beginning of the prefix. If limit is 0 or negative, all matching keys
	// are returned.
	//
	// Keys are sorted lexicographically among siblings, so fixed-width
	// timestamp components give time-ordered scans:
	//
	//	page, _ := store.Scan(ctx, "/expiryd/v1/expiry-index/2011-12-03T10:00Z/", lastKey, 100)
	Scan(ctx context.Context, prefix, afterKey string, limit int) ([]KV, error)

	// Close releases resources held by the store.
	// After Close is called, all operations will return ErrStoreClosed.
	Close() error
}

// PrefixEnd returns the key that is lexicographically greater than all keys
// with the given prefix. Returns "" if no such key exists.
func PrefixEnd(prefix string) string {
	if prefix == "" {
		return ""
	}

	// Find the last byte that is not 0xFF
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}

	return ""
}

// ScanStart returns the inclusive lower bound for a Scan.
func ScanStart(prefix, afterKey string) string {
	if afterKey == "" || afterKey < prefix {
		return prefix
	}
	// The smallest key strictly greater than afterKey.
	return afterKey + "\x00"
}
