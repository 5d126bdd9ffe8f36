package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/consentframework/expiryd/internal/logging"
)

// Clock provides time functions for testing.
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using real time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Sweeper drives one expiry pass over a window of buckets. It processes
// buckets, pages and records strictly one at a time.
type Sweeper struct {
	source       CandidateSource
	transitioner ExpiryTransitioner
	buckets      BucketEnumerator
	observer     Observer

	// clock is read once per record to decide whether it is due.
	clock Clock
}

// NewSweeper creates a sweeper reading candidates from source and expiring
// them through transitioner.
func NewSweeper(source CandidateSource, transitioner ExpiryTransitioner) *Sweeper {
	return &Sweeper{
		source:       source,
		transitioner: transitioner,
		clock:        realClock{},
	}
}

// SetClock sets the clock for testing.
func (s *Sweeper) SetClock(c Clock) {
	s.clock = c
}

// SetObserver sets the observer that receives sweep events.
func (s *Sweeper) SetObserver(o Observer) {
	s.observer = o
}

// SetBucketEnumerator overrides the default hourly enumerator.
func (s *Sweeper) SetBucketEnumerator(e BucketEnumerator) {
	s.buckets = e
}

// RunSweep expires every due record in the lookbackHours buckets ending with
// now's bucket. It returns the first fatal error, leaving later records and
// buckets for the next run. Cancelling ctx stops the run between records.
func (s *Sweeper) RunSweep(ctx context.Context, lookbackHours int, now time.Time) error {
	if lookbackHours <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLookback, lookbackHours)
	}
	buckets, err := s.buckets.Buckets(now, lookbackHours)
	if err != nil {
		return err
	}

	logger := logging.FromCtx(ctx)
	tally := &Tally{}
	obs := Observers(s.observer, tally)
	started := time.Now()

	logger.Infof("expiry sweep started", map[string]any{
		"lookbackHours": lookbackHours,
		"firstBucket":   buckets[0],
		"lastBucket":    buckets[len(buckets)-1],
	})

	for _, bucket := range buckets {
		if err := s.sweepBucket(ctx, bucket, obs, logger); err != nil {
			c := tally.Counts()
			logger.Errorf("expiry sweep failed", map[string]any{
				"bucket":    bucket,
				"expired":   c.Expired,
				"conflicts": c.Conflicts,
				"error":     err,
			})
			return err
		}
	}

	c := tally.Counts()
	logger.Infof("expiry sweep finished", map[string]any{
		"buckets":    c.Buckets,
		"pages":      c.Pages,
		"expired":    c.Expired,
		"conflicts":  c.Conflicts,
		"missing":    c.Missing,
		"durationMs": time.Since(started).Milliseconds(),
	})
	return nil
}

func (s *Sweeper) sweepBucket(ctx context.Context, bucket string, obs Observer, logger *logging.Logger) error {
	obs.Observe(ctx, Event{Kind: EventBucketStarted, Bucket: bucket, At: time.Now()})
	finish := func(reason StopReason) {
		logger.Debugf("bucket finished", map[string]any{"bucket": bucket, "reason": reason.String()})
		obs.Observe(ctx, Event{Kind: EventBucketFinished, Bucket: bucket, At: time.Now(), Stop: reason})
	}

	token := None[string]()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("expiry: sweep of bucket %s interrupted: %w", bucket, err)
		}

		result, err := s.source.Fetch(ctx, bucket, token)
		if err != nil {
			return fmt.Errorf("expiry: fetch bucket %s: %w", bucket, err)
		}
		page, ok := result.Get()
		if !ok {
			finish(StopNoPage)
			return nil
		}
		records, ok := page.Records.Get()
		if !ok {
			finish(StopNoPage)
			return nil
		}

		logger.Debugf("processing page", map[string]any{"bucket": bucket, "records": len(records)})
		obs.Observe(ctx, Event{Kind: EventPageFetched, Bucket: bucket, At: time.Now(), PageSize: len(records)})

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("expiry: sweep of bucket %s interrupted: %w", bucket, err)
			}

			now := s.clock.Now()
			due, err := isDue(rec.ExpiryMarker, now)
			if err != nil {
				return fmt.Errorf("expiry: record %s in bucket %s: %w", rec.ID, bucket, err)
			}
			if !due {
				obs.Observe(ctx, Event{Kind: EventRecordNotDue, Bucket: bucket, At: now, Record: rec})
				finish(StopFutureFound)
				return nil
			}

			if err := s.expire(ctx, bucket, rec, now, obs, logger); err != nil {
				return err
			}
		}

		next, ok := page.NextToken.Get()
		if !ok {
			finish(StopExhausted)
			return nil
		}
		token = Some(next)
	}
}

func (s *Sweeper) expire(ctx context.Context, bucket string, rec Record, now time.Time, obs Observer, logger *logging.Logger) error {
	t := TransitionFor(rec)
	outcome, err := s.transitioner.Expire(ctx, t)
	if err != nil {
		return fmt.Errorf("expiry: expire record %s: %w", rec.ID, err)
	}

	ev := Event{Bucket: bucket, At: now, Record: rec, Transition: t}
	switch outcome {
	case OutcomeExpired:
		ev.Kind = EventRecordExpired
		logger.Infof("expired record", map[string]any{
			"id":           rec.ID,
			"expiryMarker": rec.ExpiryMarker,
			"version":      t.NextVersion,
		})
	case OutcomeVersionMismatch:
		ev.Kind = EventVersionConflict
		logger.Warnf("record changed concurrently, skipping", map[string]any{
			"id":              rec.ID,
			"expectedVersion": t.ExpectedVersion,
		})
	case OutcomeNotFound:
		ev.Kind = EventRecordMissing
		logger.Debugf("record already gone", map[string]any{"id": rec.ID})
	default:
		return fmt.Errorf("expiry: expire record %s: unknown outcome %s", rec.ID, outcome)
	}
	obs.Observe(ctx, ev)
	return nil
}
