package order

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const workerService = "order-worker"

// Worker reacts to payment and stock events on behalf of orders.
type Worker struct {
	fulfill *FulfillOrderUseCase
	cancel  *CancelOrderUseCase
	in      application.Instruments
}

func NewWorker(fulfill *FulfillOrderUseCase, cancel *CancelOrderUseCase, tel observability.Observability) *Worker {
	return &Worker{
		fulfill: fulfill,
		cancel:  cancel,
		in:      application.NewInstruments(tel, workerService),
	}
}

func (w *Worker) Start(sub domoutbox.Subscriber) {
	if sub == nil || w.fulfill == nil {
		return
	}
	sub.Subscribe(payment.EventCompleted, w.handlePaymentCompleted)
	sub.Subscribe(stock.LowStockEvent{}.EventName(), w.handleLowStock)
}

func (w *Worker) handlePaymentCompleted(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "order.worker.payment_completed"
	evt, ok := e.(payment.StatusChangedEvent)
	if !ok {
		return nil
	}

	ctx, call := w.in.Begin(ctx, useCase, "PaymentCompleted",
		attribute.String("event", e.EventName()),
		attribute.String("order.id", evt.OrderID),
	)
	defer func() { call.End(err) }()
	call.With(observability.F("order_id", evt.OrderID), observability.F("payment_id", evt.PaymentID))

	if _, err := w.fulfill.Confirm(ctx, evt.OrderID); err != nil {
		// A redelivered event, or one racing a cancellation, finds the order
		// already past PENDING. Money captured for a cancelled order goes back.
		if errors.Is(err, shared.ErrInvalidStatusTransition) {
			return w.refundIfCancelled(ctx, call, evt.OrderID)
		}
		call.Fail("ORDER_CONFIRM_FAILED")
		return fmt.Errorf("worker: confirm order %s: %w", evt.OrderID, err)
	}
	call.Span().SetAttributes(attribute.String("order.status", string(domain.StatusConfirmed)))
	return nil
}

func (w *Worker) refundIfCancelled(ctx context.Context, call *application.Call, orderID string) error {
	if w.cancel == nil {
		call.Status("ORDER_NOT_PENDING")
		return nil
	}
	res, err := w.cancel.ReconcileCancelled(ctx, orderID)
	if err != nil {
		call.Fail("REFUND_AFTER_CANCEL_FAILED")
		return fmt.Errorf("worker: refund cancelled order %s: %w", orderID, err)
	}
	if res.RefundID == "" {
		call.Status("ORDER_NOT_PENDING")
		return nil
	}
	call.Status("REFUND_AFTER_CANCEL")
	call.With(observability.F("refund_id", res.RefundID))
	return nil
}

func (w *Worker) handleLowStock(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(stock.LowStockEvent)
	if !ok {
		return nil
	}
	logctx.FromOr(ctx, w.in.Logger()).Warn("stock_low",
		observability.F("location_id", evt.LocationID),
		observability.F("variant_id", evt.VariantID),
		observability.F("available", evt.Available),
		observability.F("threshold", evt.Threshold),
	)
	return nil
}
