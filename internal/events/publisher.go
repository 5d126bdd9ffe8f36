// Package events publishes consent expiry events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/consentframework/expiryd/internal/expiry"
	"github.com/consentframework/expiryd/internal/logging"
)

// ErrNoBrokers is returned by NewKafkaPublisher when no seed brokers are set.
var ErrNoBrokers = errors.New("events: at least one broker is required")

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// FailureRecorder counts events that could not be published.
type FailureRecorder interface {
	RecordPublishFailure()
}

// ConsentExpired is the payload published for every expired consent.
type ConsentExpired struct {
	ID              string    `json:"id"`
	PreviousVersion int64     `json:"previousVersion"`
	Version         int64     `json:"version"`
	ExpiryMarker    string    `json:"expiryMarker"`
	ExpiredAt       time.Time `json:"expiredAt"`
	RunID           string    `json:"runId,omitempty"`
}

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
	// ProduceTimeout bounds each publish. Default: 10 seconds.
	ProduceTimeout time.Duration
}

// Publisher turns EventRecordExpired sweep events into Kafka records.
// Publishing is best effort: failures are logged and counted, the sweep
// continues.
type Publisher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	failures FailureRecorder
}

// NewKafkaPublisher creates a publisher backed by a franz-go client.
func NewKafkaPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("events: failed to create kafka client: %w", err)
	}
	return NewPublisher(client, cfg), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer Producer, cfg Config) *Publisher {
	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		timeout:  timeout,
	}
}

// SetFailureRecorder sets where publish failures are counted.
func (p *Publisher) SetFailureRecorder(r FailureRecorder) {
	p.failures = r
}

// Observe implements expiry.Observer.
func (p *Publisher) Observe(ctx context.Context, ev expiry.Event) {
	if ev.Kind != expiry.EventRecordExpired {
		return
	}
	if err := p.Publish(ctx, eventFor(ctx, ev)); err != nil {
		logging.FromCtx(ctx).Warnf("failed to publish expiry event", map[string]any{
			"consentId": ev.Transition.ID,
			"topic":     p.topic,
			"error":     err,
		})
		if p.failures != nil {
			p.failures.RecordPublishFailure()
		}
	}
}

// Publish sends one event synchronously.
func (p *Publisher) Publish(ctx context.Context, msg ConsentExpired) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("events: failed to encode event: %w", err)
	}

	// The sweep context may already be cancelled by shutdown; still give the
	// record a bounded chance to go out.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.ID),
		Value: value,
	}
	if err := p.producer.ProduceSync(pctx, record).FirstErr(); err != nil {
		return fmt.Errorf("events: produce to %s failed: %w", p.topic, err)
	}
	return nil
}

// Close closes the underlying producer.
func (p *Publisher) Close() {
	p.producer.Close()
}

func eventFor(ctx context.Context, ev expiry.Event) ConsentExpired {
	return ConsentExpired{
		ID:              ev.Transition.ID,
		PreviousVersion: ev.Transition.ExpectedVersion,
		Version:         ev.Transition.NextVersion,
		ExpiryMarker:    ev.Transition.ExpiryMarker,
		ExpiredAt:       ev.At.UTC(),
		RunID:           logging.RunIDFromCtx(ctx),
	}
}

var _ expiry.Observer = (*Publisher)(nil)
