// Package workerpresentation adapts event handlers for background execution.
package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

// WithEventContext binds a logger for one event delivery. It carries a
// generated delivery_id, the event name, and the trace ids when ctx holds a
// valid span. attrs must stay low-cardinality.
func WithEventContext(ctx context.Context, base observability.Logger, eventName string, attrs map[string]string) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}
	fields := make([]observability.Field, 0, 4+len(attrs))
	fields = append(fields,
		observability.F("delivery_id", uuid.NewString()),
		observability.F("event", eventName),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	for k, v := range attrs {
		if v == "" || k == "event" || k == "delivery_id" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	return logctx.With(ctx, base.With(fields...))
}

// Subscriber wraps every handler registered through it with
// WithEventContext before passing it on.
type Subscriber struct {
	next  domoutbox.Subscriber
	base  observability.Logger
	attrs map[string]string
}

var _ domoutbox.Subscriber = (*Subscriber)(nil)

func NewSubscriber(next domoutbox.Subscriber, tel observability.Observability, worker string) *Subscriber {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Subscriber{
		next:  next,
		base:  tel.Logger(),
		attrs: map[string]string{"worker": worker},
	}
}

func (s *Subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		base := logctx.FromOr(ctx, s.base)
		return h(WithEventContext(ctx, base, e.EventName(), s.attrs), e)
	})
}
