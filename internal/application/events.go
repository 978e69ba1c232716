package application

import (
	"context"
	"errors"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const (
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

// EventSink publishes the events raised by a successful save. Publishing is
// best effort: failures are logged and counted but never undo the save.
type EventSink struct {
	publisher domoutbox.Publisher
	log       observability.Logger

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewEventSink(publisher domoutbox.Publisher, tel observability.Observability) *EventSink {
	if tel == nil {
		tel = observability.Nop()
	}
	return &EventSink{
		publisher:    publisher,
		log:          tel.Logger(),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Publish sends events in order and returns the joined publish errors.
func (s *EventSink) Publish(ctx context.Context, events ...domoutbox.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	logger := logctx.FromOr(ctx, s.log)

	var errs []error
	for _, e := range events {
		if e == nil {
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		start := time.Now()
		outcome := "success"

		err := s.publisher.Publish(pubCtx, e)
		if err == nil && pubCtx.Err() != nil {
			err = pubCtx.Err()
		}
		cancel()
		if err != nil {
			outcome = "error"
			errs = append(errs, err)
			logger.Warn("event_publish_failed",
				observability.F("event", e.EventName()),
				observability.F("error", err.Error()),
			)
		}

		if s.extCounter != nil {
			s.extCounter.Add(1,
				observability.L("peer", publishPeer),
				observability.L("endpoint", e.EventName()),
				observability.L("outcome", outcome),
			)
		}
		if s.extHistogram != nil {
			s.extHistogram.Observe(time.Since(start).Seconds(),
				observability.L("peer", publishPeer),
				observability.L("endpoint", e.EventName()),
			)
		}
	}
	return errors.Join(errs...)
}
