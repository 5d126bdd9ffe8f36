// Package pebblestore implements the MetadataStore interface on an embedded
// Pebble database, for single-node deployments and local development.
//
// Pebble has no native compare-and-set, so every stored value is prefixed
// with an 8-byte big-endian version and writes are serialized by a store
// mutex. The store is therefore only safe for writers sharing one process;
// deployments with several sweepers use the Oxia backend.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/consentframework/expiryd/internal/metadata"
)

const versionLen = 8

// Config configures the Pebble metadata store.
type Config struct {
	// Dir is the directory holding the database files.
	Dir string

	// NoSync skips the fsync on every write. Only for tests and local use.
	NoSync bool
}

// Store implements MetadataStore using Pebble.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// mu serializes read-modify-write cycles so version checks are atomic.
	mu     sync.Mutex
	closed bool
}

// New opens (or creates) a Pebble store in cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("pebblestore: dir is required")
	}

	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", cfg.Dir, err)
	}

	writeOpts := pebble.Sync
	if cfg.NoSync {
		writeOpts = pebble.NoSync
	}
	return &Store{db: db, writeOpts: writeOpts}, nil
}

func encodeValue(v metadata.Version, value []byte) []byte {
	buf := make([]byte, versionLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(v))
	copy(buf[versionLen:], value)
	return buf
}

func decodeValue(raw []byte) (metadata.Version, []byte, error) {
	if len(raw) < versionLen {
		return 0, nil, fmt.Errorf("pebble: corrupt value of %d bytes", len(raw))
	}
	v := metadata.Version(binary.BigEndian.Uint64(raw[:versionLen]))
	value := make([]byte, len(raw)-versionLen)
	copy(value, raw[versionLen:])
	return v, value, nil
}

// load reads a key's current version and value. Caller must hold mu.
func (s *Store) load(key string) (metadata.GetResult, error) {
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return metadata.GetResult{Exists: false}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("pebble: get failed: %w", err)
	}
	defer closer.Close()

	v, value, err := decodeValue(raw)
	if err != nil {
		return metadata.GetResult{}, err
	}
	return metadata.GetResult{Value: value, Version: v, Exists: true}, nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := ctx.Err(); err != nil {
		return metadata.GetResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return metadata.GetResult{}, metadata.ErrStoreClosed
	}
	return s.load(key)
}

// Put stores a value with optional version checking for CAS operations.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, metadata.ErrStoreClosed
	}

	current, err := s.load(key)
	if err != nil {
		return 0, err
	}
	if expected := metadata.ExtractExpectedVersion(opts); expected != nil {
		if !current.Exists && *expected != 0 {
			return 0, metadata.ErrVersionMismatch
		}
		if current.Exists && current.Version != *expected {
			return 0, metadata.ErrVersionMismatch
		}
	}

	next := current.Version + 1
	if err := s.db.Set([]byte(key), encodeValue(next, value), s.writeOpts); err != nil {
		return 0, fmt.Errorf("pebble: put failed: %w", err)
	}
	return next, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}

	if expected := metadata.ExtractDeleteExpectedVersion(opts); expected != nil {
		current, err := s.load(key)
		if err != nil {
			return err
		}
		if !current.Exists {
			return nil
		}
		if current.Version != *expected {
			return metadata.ErrVersionMismatch
		}
	}

	if err := s.db.Delete([]byte(key), s.writeOpts); err != nil {
		return fmt.Errorf("pebble: delete failed: %w", err)
	}
	return nil
}

// Scan returns keys under prefix that sort after afterKey.
func (s *Store) Scan(ctx context.Context, prefix, afterKey string, limit int) ([]metadata.KV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, metadata.ErrStoreClosed
	}

	opts := &pebble.IterOptions{
		LowerBound: []byte(metadata.ScanStart(prefix, afterKey)),
	}
	if end := metadata.PrefixEnd(prefix); end != "" {
		opts.UpperBound = []byte(end)
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: scan failed: %w", err)
	}
	defer iter.Close()

	var kvs []metadata.KV
	for valid := iter.First(); valid; valid = iter.Next() {
		raw, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("pebble: scan failed: %w", err)
		}
		v, value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, metadata.KV{
			Key:     string(iter.Key()),
			Value:   value,
			Version: v,
		})
		if limit > 0 && len(kvs) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble: scan failed: %w", err)
	}
	return kvs, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ metadata.MetadataStore = (*Store)(nil)
