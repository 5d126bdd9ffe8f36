package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock implements Clock for testing. Each Now call advances the clock
// by step.
type mockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.step)
	return now
}

// sweepNow sits in the middle of the 10:00 bucket.
var sweepNow = time.Date(2011, 12, 3, 10, 30, 0, 0, time.UTC)

const sweepBucket = "2011-12-03T10:00Z"

func newTestSweeper(repo *MemoryRepository) (*Sweeper, *Tally) {
	s := NewSweeper(repo, repo)
	s.SetClock(&mockClock{now: sweepNow})
	tally := &Tally{}
	s.SetObserver(tally)
	return s, tally
}

func putAt(repo *MemoryRepository, id string, offset time.Duration, version int64) Record {
	rec := Record{ID: id, Version: version, ExpiryMarker: MarkerFor(sweepNow.Add(offset), id)}
	repo.Put(rec)
	return rec
}

func expiredIDs(repo *MemoryRepository, ids ...string) []string {
	var out []string
	for _, id := range ids {
		if _, expired, ok := repo.Lookup(id); ok && expired {
			out = append(out, id)
		}
	}
	return out
}

func TestRunSweep_EarlyStopAtFirstFutureRecord(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -30*time.Minute, 1)
	putAt(repo, "b", -1*time.Minute, 1)
	putAt(repo, "c", 10*time.Minute, 1)
	putAt(repo, "d", 20*time.Minute, 1)

	sweeper, tally := newTestSweeper(repo)
	var notDue []string
	sweeper.SetObserver(Observers(tally, ObserverFunc(func(_ context.Context, ev Event) {
		if ev.Kind == EventRecordNotDue {
			notDue = append(notDue, ev.Record.ID)
		}
	})))

	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	assert.Equal(t, []string{"a", "b"}, expiredIDs(repo, "a", "b", "c", "d"))
	assert.Len(t, repo.Transitions(), 2)
	assert.Equal(t, []string{"c"}, notDue, "only the first future record is inspected")
	assert.Len(t, repo.Fetches(), 1)
	assert.Equal(t, Counts{Buckets: 1, Pages: 1, Expired: 2, NotDue: 1}, tally.Counts())
}

func TestRunSweep_EarlyStopSkipsRemainingPages(t *testing.T) {
	repo := NewMemoryRepository(2)
	putAt(repo, "a", -30*time.Minute, 1)
	putAt(repo, "b", -1*time.Minute, 1)
	putAt(repo, "c", 10*time.Minute, 1)
	putAt(repo, "d", 20*time.Minute, 1)
	putAt(repo, "e", 25*time.Minute, 1)

	sweeper, _ := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	assert.Equal(t, []string{"a", "b"}, expiredIDs(repo, "a", "b", "c", "d", "e"))
	// Page 1 = [a b], page 2 = [c d]; the third page is never requested.
	assert.Len(t, repo.Fetches(), 2)
}

func TestRunSweep_PaginationContinuity(t *testing.T) {
	repo := NewMemoryRepository(2)
	putAt(repo, "a", -3*time.Minute, 1)
	putAt(repo, "b", -2*time.Minute, 1)
	third := putAt(repo, "c", -1*time.Minute, 1)

	sweeper, tally := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	assert.Equal(t, []string{"a", "b", "c"}, expiredIDs(repo, "a", "b", "c"))

	fetches := repo.Fetches()
	require.Len(t, fetches, 2)
	assert.False(t, fetches[0].Token.IsSome())
	token, ok := fetches[1].Token.Get()
	require.True(t, ok, "second fetch must carry the continuation token")
	assert.Equal(t, third.ExpiryMarker, token)
	assert.Equal(t, sweepBucket, fetches[1].Bucket)
	assert.Equal(t, 2, tally.Counts().Pages)
}

func TestRunSweep_VersionPropagation(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)

	sweeper, _ := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	transitions := repo.Transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, int64(1), transitions[0].ExpectedVersion)
	assert.Equal(t, int64(2), transitions[0].NextVersion)

	rec, expired, ok := repo.Lookup("a")
	require.True(t, ok)
	assert.True(t, expired)
	assert.Equal(t, int64(2), rec.Version)
}

func TestRunSweep_VersionConflictDoesNotAbortBucket(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)
	putAt(repo, "b", -5*time.Minute, 4)

	// A concurrent writer bumps "a" between the fetch and the transition.
	repo.BeforeExpire(func(tr Transition) {
		if tr.ID == "a" {
			repo.Bump("a")
		}
	})

	sweeper, tally := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	rec, expired, _ := repo.Lookup("a")
	assert.False(t, expired)
	assert.Equal(t, int64(2), rec.Version, "the concurrent write must not be overwritten")
	assert.Equal(t, []string{"b"}, expiredIDs(repo, "a", "b"))
	assert.Equal(t, 1, tally.Counts().Conflicts)
	assert.Equal(t, 1, tally.Counts().Expired)
}

func TestRunSweep_NotFoundIsBenign(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)
	putAt(repo, "b", -5*time.Minute, 1)
	repo.BeforeExpire(func(tr Transition) {
		if tr.ID == "a" {
			repo.Remove("a")
		}
	})

	sweeper, tally := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	assert.Equal(t, []string{"b"}, expiredIDs(repo, "b"))
	assert.Equal(t, 1, tally.Counts().Missing)
}

func TestRunSweep_BucketCount(t *testing.T) {
	repo := NewMemoryRepository(10)
	sweeper, tally := newTestSweeper(repo)

	require.NoError(t, sweeper.RunSweep(context.Background(), 3, sweepNow))

	fetches := repo.Fetches()
	require.Len(t, fetches, 3)
	assert.Equal(t, "2011-12-03T08:00Z", fetches[0].Bucket)
	assert.Equal(t, "2011-12-03T09:00Z", fetches[1].Bucket)
	assert.Equal(t, "2011-12-03T10:00Z", fetches[2].Bucket)
	assert.Equal(t, 3, tally.Counts().Buckets)
}

func TestRunSweep_EmptyBucket(t *testing.T) {
	repo := NewMemoryRepository(10)
	sweeper, _ := newTestSweeper(repo)

	var stops []StopReason
	sweeper.SetObserver(ObserverFunc(func(_ context.Context, ev Event) {
		if ev.Kind == EventBucketFinished {
			stops = append(stops, ev.Stop)
		}
	}))

	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))

	assert.Empty(t, repo.Transitions())
	assert.Len(t, repo.Fetches(), 1)
	assert.Equal(t, []StopReason{StopExhausted}, stops)
}

func TestRunSweep_OlderBucketsFirst(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "new", -10*time.Minute, 1)
	putAt(repo, "old", -2*time.Hour, 1)
	putAt(repo, "outside", -5*time.Hour, 1)

	sweeper, _ := newTestSweeper(repo)
	require.NoError(t, sweeper.RunSweep(context.Background(), 3, sweepNow))

	transitions := repo.Transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, "old", transitions[0].ID)
	assert.Equal(t, "new", transitions[1].ID)
	_, expired, _ := repo.Lookup("outside")
	assert.False(t, expired, "records outside the lookback window are left alone")
}

func TestRunSweep_Idempotent(t *testing.T) {
	repo := NewMemoryRepository(2)
	putAt(repo, "a", -70*time.Minute, 1)
	putAt(repo, "b", -20*time.Minute, 1)
	putAt(repo, "c", -10*time.Minute, 1)
	putAt(repo, "d", 10*time.Minute, 1)

	first, firstTally := newTestSweeper(repo)
	require.NoError(t, first.RunSweep(context.Background(), 2, sweepNow))
	assert.Equal(t, 3, firstTally.Counts().Expired)

	second, secondTally := newTestSweeper(repo)
	require.NoError(t, second.RunSweep(context.Background(), 2, sweepNow))
	assert.Equal(t, 0, secondTally.Counts().Expired)
	assert.Len(t, repo.Transitions(), 3, "second run finds nothing to transition")
}

func TestRunSweep_ClockReadPerRecord(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -time.Second, 1)
	putAt(repo, "b", 30*time.Second, 1)
	putAt(repo, "c", 5*time.Minute, 1)

	sweeper := NewSweeper(repo, repo)
	// Each record check sees a clock one minute later than the previous one.
	sweeper.SetClock(&mockClock{now: sweepNow, step: time.Minute})

	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))
	assert.Equal(t, []string{"a", "b"}, expiredIDs(repo, "a", "b", "c"))
}

type pageSource struct {
	pages []Option[Page]
	calls int
}

func (p *pageSource) Fetch(context.Context, string, Option[string]) (Option[Page], error) {
	if p.calls >= len(p.pages) {
		return None[Page](), nil
	}
	page := p.pages[p.calls]
	p.calls++
	return page, nil
}

func TestRunSweep_AbsentPageOrRecords(t *testing.T) {
	tests := []struct {
		name string
		page Option[Page]
	}{
		{"absent page", None[Page]()},
		{"absent records", Some(Page{NextToken: Some("ignored")})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &pageSource{pages: []Option[Page]{tc.page, tc.page}}
			repo := NewMemoryRepository(10)
			sweeper := NewSweeper(src, repo)
			tally := &Tally{}
			sweeper.SetObserver(tally)

			require.NoError(t, sweeper.RunSweep(context.Background(), 2, sweepNow))
			assert.Equal(t, 2, src.calls, "each bucket stops after its first fetch")
			assert.Empty(t, repo.Transitions())
			assert.Equal(t, 0, tally.Counts().Pages)
		})
	}
}

func TestRunSweep_FetchErrorAbortsRun(t *testing.T) {
	repo := NewMemoryRepository(10)
	boom := errors.New("connection reset")
	repo.FailFetch(boom)

	sweeper, _ := newTestSweeper(repo)
	err := sweeper.RunSweep(context.Background(), 3, sweepNow)

	require.ErrorIs(t, err, boom)
	assert.Len(t, repo.Fetches(), 1, "later buckets are not visited")
}

func TestRunSweep_ExpireErrorAbortsRun(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)
	putAt(repo, "b", -5*time.Minute, 1)
	boom := errors.New("throttled")
	repo.FailExpire(boom)

	sweeper, _ := newTestSweeper(repo)
	err := sweeper.RunSweep(context.Background(), 1, sweepNow)

	require.ErrorIs(t, err, boom)
	assert.Len(t, repo.Transitions(), 1, "remaining records are not attempted")
}

func TestRunSweep_MalformedMarkerIsFatal(t *testing.T) {
	repo := NewMemoryRepository(10)
	repo.PutInBucket(sweepBucket, Record{ID: "bad", Version: 1, ExpiryMarker: "garbage"})

	sweeper, _ := newTestSweeper(repo)
	err := sweeper.RunSweep(context.Background(), 1, sweepNow)

	require.ErrorIs(t, err, ErrInvalidMarker)
	assert.Empty(t, repo.Transitions())
}

func TestRunSweep_InvalidLookback(t *testing.T) {
	repo := NewMemoryRepository(10)
	sweeper, _ := newTestSweeper(repo)

	for _, w := range []int{0, -1} {
		err := sweeper.RunSweep(context.Background(), w, sweepNow)
		assert.ErrorIs(t, err, ErrInvalidLookback)
	}
	assert.Empty(t, repo.Fetches(), "no bucket is visited")
}

func TestRunSweep_CancelBetweenRecords(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)
	putAt(repo, "b", -5*time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo.BeforeExpire(func(Transition) { cancel() })

	sweeper, _ := newTestSweeper(repo)
	err := sweeper.RunSweep(ctx, 1, sweepNow)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, expiredIDs(repo, "a", "b"), "the in-flight transition completes")
}

func TestRunSweep_EventOrder(t *testing.T) {
	repo := NewMemoryRepository(10)
	putAt(repo, "a", -10*time.Minute, 1)
	putAt(repo, "b", 10*time.Minute, 1)

	sweeper, _ := newTestSweeper(repo)
	var kinds []EventKind
	sweeper.SetObserver(ObserverFunc(func(_ context.Context, ev Event) {
		kinds = append(kinds, ev.Kind)
	}))

	require.NoError(t, sweeper.RunSweep(context.Background(), 1, sweepNow))
	assert.Equal(t, []EventKind{
		EventBucketStarted,
		EventPageFetched,
		EventRecordExpired,
		EventRecordNotDue,
		EventBucketFinished,
	}, kinds)
}
