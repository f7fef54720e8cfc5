package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/swimctl/swimctl/internal/flight"
)

// EventFlightPersisted is emitted for every record the sink stored.
const EventFlightPersisted = "flight.persisted"

// XAdder is the subset of the redis client used for publishing.
type XAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends envelopes to Redis Streams.
type Publisher struct {
	client XAdder
	now    func() time.Time
}

// PublishOption allows configuring Redis XADD behaviour.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox sets an approximate max length for the stream.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher creates a Publisher instance.
func NewPublisher(client XAdder) *Publisher {
	return &Publisher{client: client, now: time.Now}
}

// Publish validates the envelope and appends it to the given Redis stream.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = p.now().UTC()
	}
	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	for _, opt := range opts {
		opt(args)
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishRaw takes an arbitrary payload and wraps it in an envelope before publishing.
func (p *Publisher) PublishRaw(ctx context.Context, stream, eventType, version, runID string, payload interface{}, opts ...PublishOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventType:      eventType,
		PayloadVersion: version,
		RunID:          runID,
		Data:           data,
	}
	return p.Publish(ctx, stream, env, opts...)
}

// FlightPublisher fans persisted flight records out to one stream.
type FlightPublisher struct {
	pub    *Publisher
	stream string
	maxLen int64
}

// NewFlightPublisher publishes to stream, trimming it to roughly maxLen
// entries when maxLen > 0.
func NewFlightPublisher(pub *Publisher, stream string, maxLen int64) *FlightPublisher {
	return &FlightPublisher{pub: pub, stream: stream, maxLen: maxLen}
}

// PublishFlight emits a flight.persisted envelope carrying rec.
func (f *FlightPublisher) PublishFlight(ctx context.Context, runID string, rec *flight.Record) error {
	_, err := f.pub.PublishRaw(ctx, f.stream, EventFlightPersisted, "v1", runID, rec, WithMaxLenApprox(f.maxLen))
	if err == nil {
		recordPublished(ctx, f.stream)
	}
	return err
}
