package order

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const (
	useCaseOrderCancel    = "order.cancel"
	useCaseOrderReconcile = "order.reconcile_cancelled"
)

type CancelOrderInput struct {
	OrderID string
	Reason  string
}

type CancelOrderResult struct {
	OrderID       string
	Status        domain.Status
	PaymentStatus payment.Status
	// RefundID is set when the order had been paid and a refund was opened.
	RefundID string
}

type CancelDependencies struct {
	Orders    domain.Repository
	Payments  payment.Repository
	Refunds   payment.RefundRepository
	Coupons   coupon.Repository
	Stock     StockLedger
	Retrier   *retry.Retrier
	Publisher domoutbox.Publisher
}

// CancelOrderUseCase cancels an order and reverses what checkout did:
// reservations go back to the ledger, the coupon use is returned, and the
// payment is voided or refunded depending on how far it got.
type CancelOrderUseCase struct {
	deps   CancelDependencies
	events *application.EventSink
	in     application.Instruments
}

func NewCancelOrderUseCase(deps CancelDependencies, tel observability.Observability) *CancelOrderUseCase {
	return &CancelOrderUseCase{
		deps:   deps,
		events: application.NewEventSink(deps.Publisher, tel),
		in:     application.NewInstruments(tel, orderService),
	}
}

var _ application.UseCase[CancelOrderInput, *CancelOrderResult] = (*CancelOrderUseCase)(nil)

func (uc *CancelOrderUseCase) Execute(ctx context.Context, cmd CancelOrderInput) (_ *CancelOrderResult, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseOrderCancel, "CancelOrder",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(err) }()

	if cmd.OrderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Invalid("order: order id is required")
	}

	// Guards run before anything is mutated.
	current, err := loadOrder(ctx, uc.deps.Orders, cmd.OrderID)
	if err != nil {
		call.Fail(statusFor(err))
		return nil, err
	}
	if !domain.CanTransition(current.Status, domain.StatusCancelled) {
		call.Fail("STATE_TRANSITION_FAILED")
		return nil, shared.ErrInvalidStatusTransition.Detailf("order %s: %s -> %s", current.ID, current.Status, domain.StatusCancelled)
	}
	if current.ShipmentInProgress() {
		call.Fail("SHIPMENT_IN_PROGRESS")
		return nil, shared.ErrInvalidStatusTransition.Detailf("order %s: shipment is in progress", current.ID)
	}
	pay, hasPayment, err := uc.deps.Payments.FindByOrder(ctx, cmd.OrderID)
	if err != nil {
		call.Fail("PAYMENT_LOOKUP_FAILED")
		return nil, application.WrapRepositoryError(err)
	}
	if hasPayment && pay.Status == payment.StatusProcessing {
		call.Fail("PAYMENT_IN_FLIGHT")
		return nil, shared.ErrInvalidStatusTransition.Detailf("order %s: payment %s is being processed", cmd.OrderID, pay.ID)
	}

	o, cancelled, err := transitionOrder(ctx, uc.deps.Orders, uc.deps.Retrier, cmd.OrderID, func(o *domain.Order) (domain.StatusChangedEvent, error) {
		return o.Cancel(cmd.Reason)
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("order: cancel: %w", err)
	}
	events := []domoutbox.Event{cancelled}
	logger := call.Logger().With(observability.F("order_id", o.ID))

	// From here on the order is cancelled; reversal failures are logged and
	// reported but do not undo the cancellation.
	var reversalErr error
	for _, it := range o.Items {
		key := stock.Key{LocationID: it.LocationID, VariantID: it.VariantID}
		if _, rerr := uc.deps.Stock.Release(ctx, key, it.Quantity); rerr != nil {
			reversalErr = rerr
			logger.Error("stock_release_failed",
				observability.F("stock_key", key.String()),
				observability.F("error", rerr.Error()),
			)
		}
	}

	if o.CouponCode != "" {
		ev, cerr := uc.revertCoupon(ctx, o.CouponCode)
		if cerr != nil {
			reversalErr = cerr
			logger.Error("coupon_revert_failed",
				observability.F("coupon", o.CouponCode),
				observability.F("error", cerr.Error()),
			)
		} else {
			events = append(events, ev)
		}
	}

	res := &CancelOrderResult{OrderID: o.ID, Status: o.Status}
	if hasPayment {
		payEvents, perr := uc.reversePayment(ctx, o, res)
		events = append(events, payEvents...)
		if perr != nil {
			reversalErr = perr
			logger.Error("payment_reversal_failed", observability.F("error", perr.Error()))
		}
	}

	_ = uc.events.Publish(ctx, events...)

	if reversalErr != nil {
		call.Fail("REVERSAL_INCOMPLETE")
		return res, fmt.Errorf("order: cancel %s: reversal incomplete: %w", o.ID, reversalErr)
	}
	if res.RefundID != "" {
		call.Status("REFUND_INITIATED")
		call.With(observability.F("refund_id", res.RefundID))
	}
	return res, nil
}

func (uc *CancelOrderUseCase) revertCoupon(ctx context.Context, code string) (domoutbox.Event, error) {
	return retry.OnConflict(ctx, uc.deps.Retrier, "coupon", func(ctx context.Context) (domoutbox.Event, error) {
		c, found, err := uc.deps.Coupons.Get(ctx, code)
		if err != nil {
			return nil, application.WrapRepositoryError(err)
		}
		if !found {
			return nil, application.NotFound("coupon", code)
		}
		ev := c.RevertUsage()
		if _, err := uc.deps.Coupons.Save(ctx, c); err != nil {
			return nil, application.WrapRepositoryError(err)
		}
		return ev, nil
	})
}

type reversal struct {
	status   payment.Status
	refundID string
	events   []domoutbox.Event
}

// reversePayment voids a payment that never reached the gateway and
// refunds the grand total of one that was captured.
func (uc *CancelOrderUseCase) reversePayment(ctx context.Context, o *domain.Order, res *CancelOrderResult) ([]domoutbox.Event, error) {
	rv, err := retry.OnConflict(ctx, uc.deps.Retrier, "payment", func(ctx context.Context) (reversal, error) {
		p, found, err := uc.deps.Payments.FindByOrder(ctx, o.ID)
		if err != nil {
			return reversal{}, application.WrapRepositoryError(err)
		}
		if !found {
			return reversal{}, nil
		}
		switch p.Status {
		case payment.StatusPending:
			ev, err := p.Cancel()
			if err != nil {
				return reversal{}, err
			}
			if _, err := uc.deps.Payments.Save(ctx, p); err != nil {
				return reversal{}, application.WrapRepositoryError(err)
			}
			return reversal{status: p.Status, events: []domoutbox.Event{ev}}, nil
		case payment.StatusCompleted:
			return uc.refundPayment(ctx, p, o)
		case payment.StatusProcessing:
			return reversal{status: p.Status}, shared.ErrInvalidStatusTransition.Detailf("payment %s is being processed", p.ID)
		default:
			// FAILED, CANCELLED, REFUNDED: nothing left to reverse
			return reversal{status: p.Status}, nil
		}
	})
	res.PaymentStatus = rv.status
	res.RefundID = rv.refundID
	return rv.events, err
}

// refundPayment stores the refund before the payment moves to REFUNDED, so
// a REFUNDED payment always has its refund on record.
func (uc *CancelOrderUseCase) refundPayment(ctx context.Context, p *payment.Payment, o *domain.Order) (reversal, error) {
	refund, ev, err := p.InitiateRefund(o.GrandTotal, "order cancelled: "+o.CancelReason)
	if err != nil {
		return reversal{}, err
	}
	if _, err := uc.deps.Refunds.Save(ctx, refund); err != nil {
		return reversal{status: payment.StatusCompleted}, fmt.Errorf("save refund: %w", application.WrapRepositoryError(err))
	}
	if _, err := uc.deps.Payments.Save(ctx, p); err != nil {
		uc.voidRefund(ctx, refund)
		return reversal{}, application.WrapRepositoryError(err)
	}
	return reversal{status: p.Status, refundID: refund.ID, events: []domoutbox.Event{ev}}, nil
}

func (uc *CancelOrderUseCase) voidRefund(ctx context.Context, refund *payment.Refund) {
	logger := logctx.FromOr(ctx, uc.in.Logger()).With(observability.F("refund_id", refund.ID))
	// The refund never reached the gateway; it is closed through the
	// ordinary PROCESSING -> FAILED edge.
	if _, err := refund.StartProcessing(); err != nil {
		logger.Error("refund_void_failed", observability.F("error", err.Error()))
		return
	}
	if _, err := refund.Fail("payment was not marked refunded"); err != nil {
		logger.Error("refund_void_failed", observability.F("error", err.Error()))
		return
	}
	if _, err := uc.deps.Refunds.Save(ctx, refund); err != nil {
		logger.Error("refund_void_failed", observability.F("error", err.Error()))
	}
}

// ReconcileCancelled refunds a payment that was captured after its order had
// already been cancelled. Orders in any other status are left alone.
func (uc *CancelOrderUseCase) ReconcileCancelled(ctx context.Context, orderID string) (_ *CancelOrderResult, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseOrderReconcile, "ReconcileCancelledOrder",
		attribute.String("order.id", orderID),
	)
	defer func() { call.End(err) }()

	o, err := loadOrder(ctx, uc.deps.Orders, orderID)
	if err != nil {
		call.Fail(statusFor(err))
		return nil, err
	}
	res := &CancelOrderResult{OrderID: o.ID, Status: o.Status}
	if o.Status != domain.StatusCancelled {
		call.Status("ORDER_NOT_CANCELLED")
		return res, nil
	}

	events, err := uc.reversePayment(ctx, o, res)
	_ = uc.events.Publish(ctx, events...)
	if err != nil {
		call.Fail("PAYMENT_REVERSAL_FAILED")
		return res, fmt.Errorf("order: reconcile %s: %w", o.ID, err)
	}
	if res.RefundID != "" {
		call.Status("REFUND_INITIATED")
		call.With(observability.F("refund_id", res.RefundID))
	}
	return res, nil
}
