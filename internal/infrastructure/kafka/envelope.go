package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

const envelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// meta picks the fields shared by most domain events out of the payload.
type meta struct {
	OrderID    string
	OccurredAt time.Time
}

// NewEnvelope wraps e. The correlation id is the order id when the event
// carries one, so all events of an order land on the same partition.
func NewEnvelope(e domoutbox.Event, producer, traceID string) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("kafka: encode %s: %w", e.EventName(), err)
	}
	var m meta
	_ = json.Unmarshal(payload, &m)
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     e.EventName(),
		EventVersion:  envelopeVersion,
		OccurredAt:    m.OccurredAt,
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID(e, m),
		Payload:       payload,
	}, nil
}

func correlationID(e domoutbox.Event, m meta) string {
	if m.OrderID != "" {
		return m.OrderID
	}
	switch ev := e.(type) {
	case coupon.UsageChangedEvent:
		return ev.Code
	case stock.LowStockEvent:
		return stock.Key{LocationID: ev.LocationID, VariantID: ev.VariantID}.String()
	case interface{ Key() stock.Key }:
		return ev.Key().String()
	}
	return ""
}

// topicFor maps "payment.completed" to "<prefix>payment".
func topicFor(prefix, eventName string) string {
	aggregate, _, _ := strings.Cut(eventName, ".")
	return prefix + aggregate
}

func MarshalEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("kafka: encode envelope: %w", err)
	}
	return b, nil
}

func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("kafka: decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the event-specific payload.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
