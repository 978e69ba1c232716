package payment

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

const useCaseProcessRefund = "payment.refund"

type ProcessRefundResult struct {
	RefundID        string
	PaymentID       string
	OrderID         string
	Status          domain.RefundStatus
	GatewayRefundID string
	// OrderRefunded reports that a delivered order was closed as REFUNDED.
	OrderRefunded bool
}

type RefundDependencies struct {
	Refunds   domain.RefundRepository
	Payments  domain.Repository
	Orders    order.Repository
	Gateway   domain.Gateway
	Retrier   *retry.Retrier
	Publisher domoutbox.Publisher
}

// ProcessRefundUseCase sends a pending refund to the gateway.
type ProcessRefundUseCase struct {
	deps   RefundDependencies
	events *application.EventSink
	in     application.Instruments

	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewProcessRefundUseCase(deps RefundDependencies, tel observability.Observability) *ProcessRefundUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &ProcessRefundUseCase{
		deps:         deps,
		events:       application.NewEventSink(deps.Publisher, tel),
		in:           application.NewInstruments(tel, paymentService),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

var _ application.UseCase[string, *ProcessRefundResult] = (*ProcessRefundUseCase)(nil)

func (uc *ProcessRefundUseCase) Execute(ctx context.Context, refundID string) (_ *ProcessRefundResult, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseProcessRefund, "ProcessRefund",
		attribute.String("refund.id", refundID),
	)
	defer func() { call.End(err) }()

	if refundID == "" {
		call.Fail("REFUND_ID_REQUIRED")
		return nil, application.Invalid("refund: refund id is required")
	}

	ref, started, err := mutateRefund(ctx, uc.deps.Refunds, uc.deps.Retrier, refundID, func(r *domain.Refund) (domain.RefundStatusChangedEvent, error) {
		return r.StartProcessing()
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("refund: start processing: %w", err)
	}
	call.With(observability.F("order_id", ref.OrderID), observability.F("payment_id", ref.PaymentID))
	events := []domoutbox.Event{started}

	result, gwErr := uc.callGateway(ctx, ref)
	settle := func(r *domain.Refund) (domain.RefundStatusChangedEvent, error) {
		switch {
		case gwErr != nil:
			return r.Fail(gwErr.Error())
		case !result.Approved:
			return r.Fail(result.Reason)
		default:
			return r.Complete(result.GatewayRefundID)
		}
	}
	ref, settled, err := mutateRefund(ctx, uc.deps.Refunds, uc.deps.Retrier, refundID, settle)
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("refund: settle: %w", err)
	}
	events = append(events, settled)

	res := &ProcessRefundResult{
		RefundID:        ref.ID,
		PaymentID:       ref.PaymentID,
		OrderID:         ref.OrderID,
		Status:          ref.Status,
		GatewayRefundID: ref.GatewayRefundID,
	}
	if ref.Status != domain.RefundCompleted {
		call.Status("REFUND_FAILED")
		_ = uc.events.Publish(ctx, events...)
		return res, nil
	}

	ev, marked, err := uc.markOrderRefunded(ctx, ref.OrderID)
	if err != nil {
		// The money is back with the customer; the order can be closed later.
		call.Status("ORDER_MARK_FAILED")
		call.Logger().Error("order_mark_refunded_failed",
			observability.F("order_id", ref.OrderID),
			observability.F("error", err.Error()),
		)
	}
	if marked {
		res.OrderRefunded = true
		events = append(events, ev)
	}
	_ = uc.events.Publish(ctx, events...)
	return res, nil
}

var errTransactionMissing = errors.New("payment transaction not found")

func (uc *ProcessRefundUseCase) callGateway(ctx context.Context, ref *domain.Refund) (domain.RefundResult, error) {
	p, err := loadPayment(ctx, uc.deps.Payments, ref.PaymentID)
	if err != nil {
		return domain.RefundResult{}, err
	}
	tx, ok := p.Transaction(ref.PaymentTransactionID)
	if !ok || tx.GatewayTransactionID == "" {
		return domain.RefundResult{}, fmt.Errorf("%w: %s", errTransactionMissing, ref.PaymentTransactionID)
	}

	done := observeExternal(uc.extCounter, uc.extHistogram, "refund")
	res, err := uc.deps.Gateway.Refund(ctx, ref.ID, tx.GatewayTransactionID, ref.RefundAmount)
	done(err)
	return res, err
}

// markOrderRefunded closes the order if it had been delivered. Orders
// refunded because they were cancelled are already terminal.
func (uc *ProcessRefundUseCase) markOrderRefunded(ctx context.Context, orderID string) (domoutbox.Event, bool, error) {
	if uc.deps.Orders == nil {
		return nil, false, nil
	}
	type result struct {
		ev     domoutbox.Event
		marked bool
	}
	res, err := retry.OnConflict(ctx, uc.deps.Retrier, "order", func(ctx context.Context) (result, error) {
		o, found, err := uc.deps.Orders.Get(ctx, orderID)
		if err != nil {
			return result{}, application.WrapRepositoryError(err)
		}
		if !found {
			return result{}, application.NotFound("order", orderID)
		}
		if o.Status != order.StatusDelivered {
			return result{}, nil
		}
		ev, err := o.MarkRefunded()
		if err != nil {
			return result{}, err
		}
		if _, err := uc.deps.Orders.Save(ctx, o); err != nil {
			return result{}, application.WrapRepositoryError(err)
		}
		return result{ev: ev, marked: true}, nil
	})
	return res.ev, res.marked, err
}
