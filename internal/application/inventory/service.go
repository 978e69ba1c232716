package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

const (
	inventoryService = "inventory-service"
	aggregateStock   = "stock"

	useCaseReceive      = "stock.receive"
	useCaseRemove       = "stock.remove"
	useCaseReserve      = "stock.reserve"
	useCaseRelease      = "stock.release"
	useCaseConfirmSale  = "stock.confirm_sale"
	useCaseReverseSale  = "stock.reverse_sale"
	useCaseSetThreshold = "stock.set_threshold"
	useCaseGet          = "stock.get"
)

// StockService runs every ledger mutation as load, apply, compare-and-swap
// save, retried when another writer got there first.
type StockService struct {
	repo             stock.Repository
	retrier          *retry.Retrier
	events           *application.EventSink
	in               application.Instruments
	defaultThreshold uint
}

type Option func(*StockService)

// WithDefaultThreshold sets the low-stock threshold of entries created by Receive.
func WithDefaultThreshold(n uint) Option {
	return func(s *StockService) { s.defaultThreshold = n }
}

func NewStockService(
	repo stock.Repository,
	retrier *retry.Retrier,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...Option,
) *StockService {
	s := &StockService{
		repo:    repo,
		retrier: retrier,
		events:  application.NewEventSink(publisher, tel),
		in:      application.NewInstruments(tel, inventoryService),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type mutation func(e *stock.Entry) (domoutbox.Event, error)

type outcome struct {
	entry   *stock.Entry
	event   domoutbox.Event
	wasLow  bool
	created bool
}

// Receive adds stock, creating the entry on first receipt.
func (s *StockService) Receive(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseReceive, "ReceiveStock", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, true, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.AddStock(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	if res.created {
		call.Status("CREATED")
	}
	return res.entry, nil
}

func (s *StockService) Remove(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseRemove, "RemoveStock", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.RemoveStock(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return res.entry, nil
}

func (s *StockService) Reserve(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseReserve, "ReserveStock", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.Reserve(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return res.entry, nil
}

// Release gives reserved units back. Asking for more than is reserved
// releases what is there and is logged at warn level.
func (s *StockService) Release(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseRelease, "ReleaseStock", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.ReleaseReservation(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	if ev, ok := res.event.(stock.ReleasedEvent); ok && ev.Clamped() {
		call.Status("RELEASE_CLAMPED")
		call.Logger().Warn("stock_release_clamped",
			observability.F("stock_key", key.String()),
			observability.F("requested", ev.Requested),
			observability.F("released", ev.Released),
		)
	}
	return res.entry, nil
}

func (s *StockService) ConfirmSale(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseConfirmSale, "ConfirmSale", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.ConfirmSale(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return res.entry, nil
}

// ReverseSale puts back units taken by ConfirmSale, reservation included.
func (s *StockService) ReverseSale(ctx context.Context, key stock.Key, qty uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseReverseSale, "ReverseSale", keyAttrs(key, qty)...)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		ev, err := e.ReverseSale(qty)
		return ev, err
	})
	if err != nil {
		return nil, err
	}
	return res.entry, nil
}

func (s *StockService) SetThreshold(ctx context.Context, key stock.Key, threshold uint) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseSetThreshold, "SetLowStockThreshold",
		attribute.String("stock.key", key.String()),
		attribute.Int("stock.threshold", int(threshold)),
	)
	defer func() { call.End(err) }()

	res, err := s.apply(ctx, call, key, false, func(e *stock.Entry) (domoutbox.Event, error) {
		return e.SetLowStockThreshold(threshold), nil
	})
	if err != nil {
		return nil, err
	}
	return res.entry, nil
}

func (s *StockService) Get(ctx context.Context, key stock.Key) (_ *stock.Entry, err error) {
	ctx, call := s.in.Begin(ctx, useCaseGet, "GetStock", attribute.String("stock.key", key.String()))
	defer func() { call.End(err) }()

	if !key.Valid() {
		call.Fail("STOCK_KEY_INVALID")
		return nil, stock.ErrInvalidKey
	}
	entry, found, err := s.repo.Get(ctx, key)
	if err != nil {
		call.Fail("STOCK_LOOKUP_FAILED")
		return nil, application.WrapRepositoryError(err)
	}
	if !found {
		call.Fail("STOCK_NOT_FOUND")
		return nil, application.NotFound("stock", key.String())
	}
	return entry, nil
}

func (s *StockService) apply(ctx context.Context, call *application.Call, key stock.Key, create bool, mutate mutation) (outcome, error) {
	if !key.Valid() {
		call.Fail("STOCK_KEY_INVALID")
		return outcome{}, stock.ErrInvalidKey
	}

	attempts := 0
	status := ""
	res, err := retry.OnConflict(ctx, s.retrier, aggregateStock, func(ctx context.Context) (outcome, error) {
		attempts++
		entry, found, err := s.repo.Get(ctx, key)
		if err != nil {
			status = "STOCK_LOOKUP_FAILED"
			return outcome{}, application.WrapRepositoryError(err)
		}
		created := false
		if !found {
			if !create {
				status = "STOCK_NOT_FOUND"
				return outcome{}, application.NotFound("stock", key.String())
			}
			if entry, err = stock.NewEntry(key, 0, s.defaultThreshold); err != nil {
				status = "STOCK_KEY_INVALID"
				return outcome{}, err
			}
			created = true
		}

		wasLow := !created && entry.IsLowStock()
		ev, err := mutate(entry)
		if err != nil {
			status = statusFor(err)
			return outcome{}, err
		}
		if _, err := s.repo.Save(ctx, entry); err != nil {
			status = "STOCK_SAVE_FAILED"
			return outcome{}, application.WrapRepositoryError(err)
		}
		return outcome{entry: entry, event: ev, wasLow: wasLow, created: created}, nil
	})
	if attempts > 1 {
		call.With(observability.F("attempts", attempts))
	}
	if err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			status = "CONCURRENT_MODIFICATION"
		}
		call.Fail(status)
		return outcome{}, fmt.Errorf("stock %s: %w", key, err)
	}
	call.Span().SetAttributes(
		attribute.Int("stock.available", int(res.entry.Available())),
		attribute.Int64("stock.version", int64(res.entry.Version)),
	)

	events := []domoutbox.Event{res.event}
	if res.entry.IsLowStock() && !res.wasLow {
		events = append(events, stock.NewLowStockEvent(res.entry))
	}
	_ = s.events.Publish(ctx, events...)
	return res, nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, stock.ErrInvalidQuantity):
		return "QUANTITY_INVALID"
	case errors.Is(err, stock.ErrInvalidReservation):
		return "RESERVATION_INVALID"
	default:
		return "STOCK_MUTATION_FAILED"
	}
}

func keyAttrs(key stock.Key, qty uint) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stock.location_id", key.LocationID),
		attribute.String("stock.variant_id", key.VariantID),
		attribute.Int("stock.quantity", int(qty)),
	}
}
