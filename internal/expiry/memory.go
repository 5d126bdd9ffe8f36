package expiry

import (
	"context"
	"sort"
	"sync"
)

// FetchCall records one Fetch against a MemoryRepository.
type FetchCall struct {
	Bucket string
	Token  Option[string]
}

type memRecord struct {
	rec     Record
	bucket  string
	expired bool
}

// MemoryRepository is an in-memory Repository for tests and local runs.
// Records are bucketed by the hour of their expiry marker. A continuation
// token is the expiry marker of the first record of the next page, so
// pagination survives records expiring between fetches.
type MemoryRepository struct {
	mu       sync.Mutex
	pageSize int
	records  map[string]*memRecord

	fetches     []FetchCall
	transitions []Transition

	fetchErr     error
	expireErr    error
	beforeExpire func(Transition)
}

// NewMemoryRepository creates an empty repository returning at most
// pageSize records per page. A non-positive pageSize means 2.
func NewMemoryRepository(pageSize int) *MemoryRepository {
	if pageSize <= 0 {
		pageSize = 2
	}
	return &MemoryRepository{
		pageSize: pageSize,
		records:  make(map[string]*memRecord),
	}
}

// Put adds or replaces an active record. Its bucket is derived from the
// marker; a malformed marker is stored in no bucket.
func (r *MemoryRepository) Put(rec Record) {
	bucket := ""
	if at, _, err := ParseMarker(rec.ExpiryMarker); err == nil {
		bucket = HourOf(at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = &memRecord{rec: rec, bucket: bucket}
}

// PutInBucket adds an active record to an explicit bucket, bypassing marker
// parsing.
func (r *MemoryRepository) PutInBucket(bucket string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = &memRecord{rec: rec, bucket: bucket}
}

// Bump simulates a concurrent writer mutating the record.
func (r *MemoryRepository) Bump(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.records[id]; ok {
		m.rec.Version++
	}
}

// Remove deletes a record outright.
func (r *MemoryRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Lookup returns the stored record and whether it has been expired.
func (r *MemoryRepository) Lookup(id string) (rec Record, expired, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.records[id]
	if !ok {
		return Record{}, false, false
	}
	return m.rec, m.expired, true
}

// FailFetch makes every Fetch return err. Nil clears it.
func (r *MemoryRepository) FailFetch(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchErr = err
}

// FailExpire makes every Expire return err. Nil clears it.
func (r *MemoryRepository) FailExpire(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireErr = err
}

// BeforeExpire registers a hook run at the start of every Expire, without
// the repository lock held.
func (r *MemoryRepository) BeforeExpire(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeExpire = fn
}

// Fetches returns the recorded Fetch calls.
func (r *MemoryRepository) Fetches() []FetchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchCall(nil), r.fetches...)
}

// Transitions returns the recorded Expire calls.
func (r *MemoryRepository) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

// Fetch implements CandidateSource.
func (r *MemoryRepository) Fetch(_ context.Context, bucket string, token Option[string]) (Option[Page], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetches = append(r.fetches, FetchCall{Bucket: bucket, Token: token})
	if r.fetchErr != nil {
		return None[Page](), r.fetchErr
	}

	var active []Record
	for _, m := range r.records {
		if m.bucket == bucket && !m.expired {
			active = append(active, m.rec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ExpiryMarker < active[j].ExpiryMarker
	})

	start := 0
	if from, ok := token.Get(); ok {
		start = sort.Search(len(active), func(i int) bool {
			return active[i].ExpiryMarker >= from
		})
	}
	end := min(start+r.pageSize, len(active))

	page := Page{Records: Some(append([]Record{}, active[start:end]...))}
	if end < len(active) {
		page.NextToken = Some(active[end].ExpiryMarker)
	}
	return Some(page), nil
}

// Expire implements ExpiryTransitioner.
func (r *MemoryRepository) Expire(_ context.Context, t Transition) (Outcome, error) {
	r.mu.Lock()
	hook := r.beforeExpire
	r.mu.Unlock()
	if hook != nil {
		hook(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, t)
	if r.expireErr != nil {
		return 0, r.expireErr
	}

	m, ok := r.records[t.ID]
	if !ok || m.expired {
		return OutcomeNotFound, nil
	}
	if m.rec.Version != t.ExpectedVersion {
		return OutcomeVersionMismatch, nil
	}
	m.rec.Version = t.NextVersion
	m.expired = true
	return OutcomeExpired, nil
}

var _ Repository = (*MemoryRepository)(nil)
