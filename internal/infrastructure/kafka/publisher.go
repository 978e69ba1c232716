// Package kafka forwards domain events to Kafka topics as JSON envelopes.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Publisher struct {
	w        messageWriter
	producer string
	prefix   string
}

var _ domoutbox.Publisher = (*Publisher)(nil)

// NewPublisher writes to one topic per aggregate, "<prefix><aggregate>".
func NewPublisher(brokers []string, topicPrefix, producer string) *Publisher {
	return newPublisher(&kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, topicPrefix, producer)
}

func newPublisher(w messageWriter, topicPrefix, producer string) *Publisher {
	return &Publisher{w: w, producer: producer, prefix: topicPrefix}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	env, err := NewEnvelope(e, p.producer, traceID)
	if err != nil {
		return err
	}
	value, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Topic: topicFor(p.prefix, env.EventType),
		Key:   []byte(env.CorrelationID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", env.EventType, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.w.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
