package outbox

import (
	"context"

	"golang.org/x/sync/errgroup"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
)

// FanOut publishes every event to all of its publishers concurrently.
type FanOut struct {
	publishers []domoutbox.Publisher
}

var _ domoutbox.Publisher = (*FanOut)(nil)

// NewFanOut skips nil publishers.
func NewFanOut(publishers ...domoutbox.Publisher) *FanOut {
	f := &FanOut{}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Publish waits for every publisher and returns the first error. A failing
// publisher does not stop the others.
func (f *FanOut) Publish(ctx context.Context, e domoutbox.Event) error {
	if len(f.publishers) == 1 {
		return f.publishers[0].Publish(ctx, e)
	}
	var g errgroup.Group
	for _, p := range f.publishers {
		g.Go(func() error { return p.Publish(ctx, e) })
	}
	return g.Wait()
}
