package order

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

const (
	useCaseOrderConfirm = "order.confirm"
	useCaseOrderProcess = "order.start_processing"
	useCaseOrderShip    = "order.ship"
	useCaseOrderDeliver = "order.deliver"
	useCaseOrderRefund  = "order.mark_refunded"
)

// FulfillOrderUseCase moves an order forward through its lifecycle.
type FulfillOrderUseCase struct {
	orders  domain.Repository
	stock   StockLedger
	retrier *retry.Retrier
	events  *application.EventSink
	in      application.Instruments
}

func NewFulfillOrderUseCase(
	orders domain.Repository,
	stock StockLedger,
	retrier *retry.Retrier,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *FulfillOrderUseCase {
	return &FulfillOrderUseCase{
		orders:  orders,
		stock:   stock,
		retrier: retrier,
		events:  application.NewEventSink(publisher, tel),
		in:      application.NewInstruments(tel, orderService),
	}
}

func (uc *FulfillOrderUseCase) Confirm(ctx context.Context, orderID string) (*domain.Order, error) {
	return uc.run(ctx, useCaseOrderConfirm, "ConfirmOrder", orderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.Confirm()
	})
}

func (uc *FulfillOrderUseCase) StartProcessing(ctx context.Context, orderID string) (*domain.Order, error) {
	return uc.run(ctx, useCaseOrderProcess, "StartProcessingOrder", orderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.StartProcessing()
	})
}

// Ship claims the order, converts each item's reservation into a sale, then
// marks the order shipped. The claim keeps a concurrent cancel from
// releasing the same reservations; it is taken before any stock moves, so
// an order that is no longer PROCESSING ships nothing. If a later step fails
// the confirmed sales are reversed, newest first, and the claim is dropped,
// leaving the order with its reservations.
func (uc *FulfillOrderUseCase) Ship(ctx context.Context, orderID, trackingNumber string) (_ *domain.Order, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseOrderShip, "ShipOrder", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()

	if orderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Invalid("order: order id is required")
	}
	claimed, err := updateOrder(ctx, uc.orders, uc.retrier, orderID, func(o *domain.Order) error {
		return o.BeginShipment()
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("order: ship: %w", err)
	}

	var sold []sale
	for _, it := range claimed.Items {
		key := stock.Key{LocationID: it.LocationID, VariantID: it.VariantID}
		if _, serr := uc.stock.ConfirmSale(ctx, key, it.Quantity); serr != nil {
			call.Fail("STOCK_CONFIRM_FAILED")
			uc.abortShipment(ctx, call, orderID, sold)
			return nil, fmt.Errorf("order: ship %s: confirm sale %s: %w", orderID, key, serr)
		}
		sold = append(sold, sale{key: key, qty: it.Quantity})
	}

	o, ev, err := transitionOrder(ctx, uc.orders, uc.retrier, orderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.Ship(trackingNumber)
	})
	if err != nil {
		call.Fail(statusFor(err))
		uc.abortShipment(ctx, call, orderID, sold)
		return nil, fmt.Errorf("order: ship: %w", err)
	}
	// EventSink logs the failure; the shipment stands either way.
	if perr := uc.events.Publish(ctx, ev); perr != nil {
		call.Status("EVENT_PUBLISH_FAILED")
	}
	return o, nil
}

type sale struct {
	key stock.Key
	qty uint
}

// abortShipment reverses the confirmed sales and drops the shipment claim.
// The claim kept the order's reservations untouched meanwhile, so the
// reversal restores them exactly.
func (uc *FulfillOrderUseCase) abortShipment(ctx context.Context, call *application.Call, orderID string, sold []sale) {
	ctx = context.WithoutCancel(ctx)
	for i := len(sold) - 1; i >= 0; i-- {
		s := sold[i]
		if _, err := uc.stock.ReverseSale(ctx, s.key, s.qty); err != nil {
			call.Logger().Error("stock_sale_reversal_failed",
				observability.F("stock_key", s.key.String()),
				observability.F("quantity", s.qty),
				observability.F("error", err.Error()),
			)
		}
	}
	_, err := updateOrder(ctx, uc.orders, uc.retrier, orderID, func(o *domain.Order) error {
		o.AbortShipment()
		return nil
	})
	if err != nil {
		call.Logger().Error("shipment_abort_failed",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *FulfillOrderUseCase) Deliver(ctx context.Context, orderID string) (*domain.Order, error) {
	return uc.run(ctx, useCaseOrderDeliver, "DeliverOrder", orderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.Deliver()
	})
}

// MarkRefunded closes a delivered order whose money has been returned.
func (uc *FulfillOrderUseCase) MarkRefunded(ctx context.Context, orderID string) (*domain.Order, error) {
	return uc.run(ctx, useCaseOrderRefund, "MarkOrderRefunded", orderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.MarkRefunded()
	})
}

func (uc *FulfillOrderUseCase) run(ctx context.Context, useCase, span, orderID string, apply transitionFn) (_ *domain.Order, err error) {
	ctx, call := uc.in.Begin(ctx, useCase, span, attribute.String("order.id", orderID))
	defer func() { call.End(err) }()

	if orderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Invalid("order: order id is required")
	}
	o, ev, err := transitionOrder(ctx, uc.orders, uc.retrier, orderID, apply)
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("%s: %w", useCase, err)
	}
	call.Span().SetAttributes(attribute.String("order.status", string(o.Status)))
	// EventSink logs the failure; the transition stands either way.
	if perr := uc.events.Publish(ctx, ev); perr != nil {
		call.Status("EVENT_PUBLISH_FAILED")
	}
	return o, nil
}
