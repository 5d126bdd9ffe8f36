package expiry

import (
	"context"
	"sync"
	"time"
)

// EventKind identifies what happened during a sweep.
type EventKind int

const (
	EventBucketStarted EventKind = iota
	EventPageFetched
	EventRecordExpired
	EventVersionConflict
	EventRecordMissing
	EventRecordNotDue
	EventBucketFinished
)

func (k EventKind) String() string {
	switch k {
	case EventBucketStarted:
		return "bucket_started"
	case EventPageFetched:
		return "page_fetched"
	case EventRecordExpired:
		return "record_expired"
	case EventVersionConflict:
		return "version_conflict"
	case EventRecordMissing:
		return "record_missing"
	case EventRecordNotDue:
		return "record_not_due"
	case EventBucketFinished:
		return "bucket_finished"
	default:
		return "unknown"
	}
}

// StopReason says why a bucket scan ended.
type StopReason int

const (
	// StopExhausted: the last page had no continuation token.
	StopExhausted StopReason = iota
	// StopFutureFound: a record that is not yet due was reached.
	StopFutureFound
	// StopNoPage: the source returned no page or no record list.
	StopNoPage
)

func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopFutureFound:
		return "future_found"
	case StopNoPage:
		return "no_page"
	default:
		return "unknown"
	}
}

// Event describes one step of a sweep. Fields that do not apply to Kind are
// zero.
type Event struct {
	Kind   EventKind
	Bucket string
	// At is the evaluation instant for record events and the wall clock
	// otherwise.
	At time.Time
	// Record is set for record events.
	Record Record
	// Transition is set for EventRecordExpired, EventVersionConflict and
	// EventRecordMissing.
	Transition Transition
	// PageSize is set for EventPageFetched.
	PageSize int
	// Stop is set for EventBucketFinished.
	Stop StopReason
}

// Observer receives sweep events synchronously. Implementations must not
// block for long; the sweep waits for them.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}

// Observers fans events out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// Counts summarises a sweep.
type Counts struct {
	Buckets   int
	Pages     int
	Expired   int
	Conflicts int
	Missing   int
	NotDue    int
}

// Tally is an Observer that counts events.
type Tally struct {
	mu     sync.Mutex
	counts Counts
}

// Observe implements Observer.
func (t *Tally) Observe(_ context.Context, ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Kind {
	case EventBucketStarted:
		t.counts.Buckets++
	case EventPageFetched:
		t.counts.Pages++
	case EventRecordExpired:
		t.counts.Expired++
	case EventVersionConflict:
		t.counts.Conflicts++
	case EventRecordMissing:
		t.counts.Missing++
	case EventRecordNotDue:
		t.counts.NotDue++
	}
}

// Counts returns a snapshot of the counters.
func (t *Tally) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}
