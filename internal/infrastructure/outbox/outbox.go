// Package outbox dispatches domain events to in-process subscribers.
package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const componentOutbox = "outbox"

// ErrStopped is returned by Publish after Stop.
var ErrStopped = errors.New("outbox: bus stopped")

// delivery carries the publisher's span so handlers continue its trace.
type delivery struct {
	event domoutbox.Event
	span  trace.SpanContext
}

// Bus is an in-memory event bus. It is not durable: events still queued
// when the process exits are lost, which is why anything that must reach
// other services also goes through the kafka publisher.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]domoutbox.Handler
	queue       chan delivery
	startOnce   sync.Once
	stopOnce    sync.Once
	stopped     chan struct{}
	done        chan struct{}
	cancel      context.CancelFunc
	concurrency int
	timeout     time.Duration
	log         observability.Logger
	handled     observability.Counter // events_handled_total{event,outcome}
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan delivery, n)
		}
	}
}

// WithConcurrency caps the handlers running for one event.
func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:        make(map[string][]domoutbox.Handler),
		queue:       make(chan delivery, 1024),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		concurrency: 8,
		timeout:     30 * time.Second,
		log:         tel.Logger().With(observability.F("component", componentOutbox)),
		handled:     tel.Metrics().Counter(observability.MEventsHandled),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

// Stop refuses new events, drains the queue and waits for the dispatcher
// until ctx expires.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stopped)
		b.startOnce.Do(func() { close(b.done) }) // never started

		select {
		case <-b.done:
		case <-ctx.Done():
			logctx.FromOr(ctx, b.log).Warn("event_bus_drain_aborted", observability.F("pending", len(b.queue)))
		}
		if b.cancel != nil {
			b.cancel()
		}
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	select {
	case <-b.stopped:
		return ErrStopped
	default:
	}
	d := delivery{event: e, span: trace.SpanContextFromContext(ctx)}
	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- d:
		logger.Debug("event_enqueued")
		return nil
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted", observability.F("error", ctx.Err()))
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-b.queue:
			b.fanout(ctx, d)
		case <-b.stopped:
			for {
				select {
				case d := <-b.queue:
					b.fanout(ctx, d)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) fanout(ctx context.Context, d delivery) {
	name := d.event.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	logger := b.log.With(observability.F("event", name))
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		b.count(name, "dropped")
		return
	}

	if d.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, d.span)
	}
	ctx = logctx.With(ctx, logger)

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
					b.count(name, "panic")
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			if err := h(hctx, d.event); err != nil {
				logger.Warn("event_handler_error", observability.F("error", err))
				b.count(name, "error")
				return
			}
			b.count(name, "success")
		}()
	}

	wg.Wait()
	logger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}

func (b *Bus) count(event, outcome string) {
	if b.handled != nil {
		b.handled.Add(1,
			observability.L("event", event),
			observability.L("outcome", outcome),
		)
	}
}
