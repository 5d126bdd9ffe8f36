package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/consentframework/expiryd/internal/expiry"
	"github.com/consentframework/expiryd/internal/logging"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results kgo.ProduceResults
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordPublishFailure() { c.n++ }

var expiredAt = time.Date(2011, 12, 3, 10, 30, 0, 0, time.UTC)

func expiredEvent() expiry.Event {
	rec := expiry.Record{ID: "svc|user|c1", Version: 4, ExpiryMarker: "2011-12-03T10:15:12Z|svc|user|c1"}
	return expiry.Event{
		Kind:       expiry.EventRecordExpired,
		Bucket:     "2011-12-03T10:00Z",
		At:         expiredAt,
		Record:     rec,
		Transition: expiry.TransitionFor(rec),
	}
}

func TestObservePublishesExpiredRecords(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, Config{Topic: "consent-expiry-events"})

	ctx := logging.WithRunIDCtx(context.Background(), "run-1")
	p.Observe(ctx, expiredEvent())

	require.Len(t, producer.records, 1)
	rec := producer.records[0]
	assert.Equal(t, "consent-expiry-events", rec.Topic)
	assert.Equal(t, "svc|user|c1", string(rec.Key))

	var got ConsentExpired
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, ConsentExpired{
		ID:              "svc|user|c1",
		PreviousVersion: 4,
		Version:         5,
		ExpiryMarker:    "2011-12-03T10:15:12Z|svc|user|c1",
		ExpiredAt:       expiredAt,
		RunID:           "run-1",
	}, got)
}

func TestObserveIgnoresOtherEvents(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, Config{Topic: "t"})

	for _, k := range []expiry.EventKind{
		expiry.EventBucketStarted,
		expiry.EventPageFetched,
		expiry.EventVersionConflict,
		expiry.EventRecordMissing,
		expiry.EventRecordNotDue,
		expiry.EventBucketFinished,
	} {
		ev := expiredEvent()
		ev.Kind = k
		p.Observe(context.Background(), ev)
	}
	assert.Empty(t, producer.records)
}

func TestObserveCountsFailures(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	rec := &countingRecorder{}
	p := NewPublisher(producer, Config{Topic: "t"})
	p.SetFailureRecorder(rec)

	ctx := logging.WithLoggerCtx(context.Background(), logging.Discard())
	p.Observe(ctx, expiredEvent())
	p.Observe(ctx, expiredEvent())

	assert.Equal(t, 2, rec.n)
	assert.Empty(t, producer.records)
}

func TestPublishReturnsProduceError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&fakeProducer{err: boom}, Config{Topic: "t"})

	err := p.Publish(context.Background(), ConsentExpired{ID: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestPublishSurvivesCancelledContext(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, Config{Topic: "t"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, ConsentExpired{ID: "x"}))
	assert.Len(t, producer.records, 1)
}

func TestPublisherWithSweeper(t *testing.T) {
	repo := expiry.NewMemoryRepository(2)
	past := expiredAt.Add(-10 * time.Minute)
	repo.Put(expiry.Record{ID: "a", Version: 1, ExpiryMarker: expiry.MarkerFor(past, "a")})
	repo.Put(expiry.Record{ID: "b", Version: 7, ExpiryMarker: expiry.MarkerFor(past.Add(time.Minute), "b")})

	producer := &fakeProducer{}
	sweeper := expiry.NewSweeper(repo, repo)
	sweeper.SetObserver(NewPublisher(producer, Config{Topic: "t"}))

	ctx := logging.WithLoggerCtx(context.Background(), logging.Discard())
	require.NoError(t, sweeper.RunSweep(ctx, 3, expiredAt))

	require.Len(t, producer.records, 2)
	assert.Equal(t, "a", string(producer.records[0].Key))
	assert.Equal(t, "b", string(producer.records[1].Key))
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(Config{Topic: "t"})
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestClose(t *testing.T) {
	producer := &fakeProducer{}
	NewPublisher(producer, Config{Topic: "t"}).Close()
	assert.True(t, producer.closed)
}
