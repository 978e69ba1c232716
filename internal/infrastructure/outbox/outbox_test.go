package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil, WithConcurrency(2))
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(2)
	for _, id := range []string{"a", "b"} {
		bus.Subscribe("order.created", func(_ context.Context, e domoutbox.Event) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, id+":"+e.EventName())
			mu.Unlock()
			return nil
		})
	}
	bus.Start(ctx)
	defer bus.Stop(ctx)

	require.NoError(t, bus.Publish(ctx, testEvent{"order.created"}))
	require.NoError(t, bus.Publish(ctx, testEvent{"nobody.listens"}))
	wg.Wait()
	assert.ElementsMatch(t, []string{"a:order.created", "b:order.created"}, got)
}

func TestBus_ContinuesPublisherTrace(t *testing.T) {
	bus := NewBus(nil)
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()

	seen := make(chan trace.SpanContext, 1)
	bus.Subscribe("x", func(ctx context.Context, _ domoutbox.Event) error {
		seen <- trace.SpanContextFromContext(ctx)
		return nil
	})
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(ctx, testEvent{"x"}))
	select {
	case sc := <-seen:
		assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestBus_SurvivesPanicAndDrainsOnStop(t *testing.T) {
	bus := NewBus(nil)
	var calls atomic.Int32
	bus.Subscribe("boom", func(context.Context, domoutbox.Event) error { panic("handler bug") })
	bus.Subscribe("ok", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return errors.New("ignored")
	})

	ctx := context.Background()
	bus.Start(ctx)
	require.NoError(t, bus.Publish(ctx, testEvent{"boom"}))
	for range 5 {
		require.NoError(t, bus.Publish(ctx, testEvent{"ok"}))
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	bus.Stop(stopCtx)
	assert.Equal(t, int32(5), calls.Load())
	assert.ErrorIs(t, bus.Publish(ctx, testEvent{"ok"}), ErrStopped)
}

type countingPublisher struct {
	n   atomic.Int32
	err error
}

func (p *countingPublisher) Publish(context.Context, domoutbox.Event) error {
	p.n.Add(1)
	return p.err
}

func TestFanOut(t *testing.T) {
	ok := &countingPublisher{}
	broken := &countingPublisher{err: errors.New("kafka down")}
	f := NewFanOut(ok, nil, broken)

	err := f.Publish(context.Background(), testEvent{"x"})
	assert.EqualError(t, err, "kafka down")
	assert.Equal(t, int32(1), ok.n.Load())
	assert.Equal(t, int32(1), broken.n.Load())

	assert.NoError(t, NewFanOut(ok).Publish(context.Background(), testEvent{"x"}))
}
