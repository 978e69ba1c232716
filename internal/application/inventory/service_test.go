package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/zaplogger"
)

var key = stock.Key{LocationID: "wh-1", VariantID: "blue-m"}

type recorder struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (r *recorder) Publish(_ context.Context, e domoutbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventName())
	}
	return out
}

// flakyRepo reports a version conflict for the first n saves.
type flakyRepo struct {
	stock.Repository
	mu sync.Mutex
	n  int
}

func (f *flakyRepo) Save(ctx context.Context, e *stock.Entry) (uint64, error) {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return 0, shared.ErrConcurrentModification
	}
	f.mu.Unlock()
	return f.Repository.Save(ctx, e)
}

func fastRetry(attempts uint) *retry.Retrier {
	return retry.New(retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, nil)
}

func newService(t *testing.T, repo stock.Repository, opts ...Option) (*StockService, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewStockService(repo, fastRetry(5), rec, nil, opts...), rec
}

func TestReceive_CreatesEntry(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t, memory.NewStockRepository(), WithDefaultThreshold(5))

	entry, err := svc.Receive(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(3), entry.QuantityOnHand)
	assert.Equal(t, uint(5), entry.LowStockThreshold)
	assert.Equal(t, []string{"stock.received", "stock.low"}, rec.names())

	entry, err = svc.Receive(ctx, key, 10)
	require.NoError(t, err)
	assert.Equal(t, uint(13), entry.QuantityOnHand)
	assert.Equal(t, uint64(3), entry.Version)
}

func TestReserve_Insufficient(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t, memory.NewStockRepository())

	_, err := svc.Receive(ctx, key, 2)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, key, 3)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	code, _ := shared.CodeOf(err)
	assert.Equal(t, shared.CodeInsufficientStock, code)
	assert.Equal(t, []string{"stock.received"}, rec.names())

	got, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint(0), got.QuantityReserved)
}

func TestMutations_MissingEntry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewStockRepository())

	_, err := svc.Reserve(ctx, key, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(ctx, key)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Reserve(ctx, stock.Key{VariantID: "x"}, 1)
	assert.ErrorIs(t, err, stock.ErrInvalidKey)
}

func TestReserveConfirmSale(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewStockRepository())

	_, err := svc.Receive(ctx, key, 10)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 4)
	require.NoError(t, err)

	_, err = svc.ConfirmSale(ctx, key, 5)
	assert.ErrorIs(t, err, stock.ErrInvalidReservation)

	entry, err := svc.ConfirmSale(ctx, key, 4)
	require.NoError(t, err)
	assert.Equal(t, uint(6), entry.QuantityOnHand)
	assert.Equal(t, uint(0), entry.QuantityReserved)

	entry, err = svc.Remove(ctx, key, 6)
	require.NoError(t, err)
	assert.True(t, entry.IsOutOfStock())
}

func TestReverseSale(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewStockRepository())

	_, err := svc.Receive(ctx, key, 10)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 3)
	require.NoError(t, err)
	_, err = svc.ConfirmSale(ctx, key, 3)
	require.NoError(t, err)

	entry, err := svc.ReverseSale(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(10), entry.QuantityOnHand)
	assert.Equal(t, uint(3), entry.QuantityReserved)
}

func TestRelease_ClampIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	tel := infraobs.New(nil, zaplogger.Wrap(zap.New(core)), nil, nil)
	svc := NewStockService(memory.NewStockRepository(), fastRetry(3), nil, tel)

	_, err := svc.Receive(ctx, key, 10)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 2)
	require.NoError(t, err)

	entry, err := svc.Release(ctx, key, 5)
	require.NoError(t, err)
	assert.Equal(t, uint(0), entry.QuantityReserved)

	clamped := logs.FilterMessage("stock_release_clamped").All()
	require.Len(t, clamped, 1)
	assert.EqualValues(t, 5, clamped[0].ContextMap()["requested"])
	assert.EqualValues(t, 2, clamped[0].ContextMap()["released"])
}

func TestLowStockEmittedOnCrossing(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t, memory.NewStockRepository(), WithDefaultThreshold(2))

	_, err := svc.Receive(ctx, key, 10)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 7) // available 3
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 1) // available 2, crosses
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, key, 1) // still low
	require.NoError(t, err)

	assert.Equal(t, []string{
		"stock.received", "stock.reserved", "stock.reserved", "stock.low", "stock.reserved",
	}, rec.names())
}

func TestSetThreshold(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t, memory.NewStockRepository())

	_, err := svc.Receive(ctx, key, 4)
	require.NoError(t, err)
	entry, err := svc.SetThreshold(ctx, key, 4)
	require.NoError(t, err)
	assert.True(t, entry.IsLowStock())
	assert.Contains(t, rec.names(), "stock.threshold_changed")
	assert.Contains(t, rec.names(), "stock.low")
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Repository: memory.NewStockRepository()}
	svc, _ := newService(t, repo)

	_, err := svc.Receive(ctx, key, 5)
	require.NoError(t, err)

	repo.n = 2
	entry, err := svc.Reserve(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), entry.QuantityReserved)

	repo.n = 10
	_, err = svc.Reserve(ctx, key, 1)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository()
	svc := NewStockService(repo, fastRetry(200), nil, nil)

	const onHand, workers = 20, 60
	_, err := svc.Receive(ctx, key, onHand)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded uint
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, key, 1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, stock.ErrInsufficientStock) && !errors.Is(err, shared.ErrConcurrentModification) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	entry, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, succeeded, entry.QuantityReserved)
	assert.LessOrEqual(t, entry.QuantityReserved, uint(onHand))
	assert.Equal(t, uint64(1+1+succeeded), entry.Version)
}
