package payment

import (
	"context"
	"fmt"

	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const paymentWorker = "payment-worker"

// Worker charges new payments and settles requested refunds as their
// events arrive.
type Worker struct {
	process *ProcessPaymentUseCase
	refund  *ProcessRefundUseCase
	log     observability.Logger
}

func NewWorker(process *ProcessPaymentUseCase, refund *ProcessRefundUseCase, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		process: process,
		refund:  refund,
		log:     tel.Logger().With(observability.F("service", paymentWorker)),
	}
}

func (w *Worker) Start(sub domoutbox.Subscriber) {
	if sub == nil {
		return
	}
	if w.process != nil {
		sub.Subscribe(domain.EventCreated, w.handlePaymentCreated)
	}
	if w.refund != nil {
		sub.Subscribe(domain.EventRefundRequested, w.handleRefundRequested)
	}
}

func (w *Worker) handlePaymentCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.CreatedEvent)
	if !ok {
		return nil
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", e.EventName()),
		observability.F("payment_id", evt.PaymentID),
	)
	// Collected by the courier, settled out of band.
	if evt.Method == domain.MethodCashOnDelivery {
		logger.Info("payment_deferred", observability.F("method", string(evt.Method)))
		return nil
	}

	res, err := w.process.Execute(ctx, evt.PaymentID)
	if err != nil {
		logger.Warn("payment_processing_failed", observability.F("error", err.Error()))
		return fmt.Errorf("worker: process payment %s: %w", evt.PaymentID, err)
	}
	logger.Info("payment_processed", observability.F("status", string(res.Status)))
	return nil
}

func (w *Worker) handleRefundRequested(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.RefundRequestedEvent)
	if !ok {
		return nil
	}
	res, err := w.refund.Execute(ctx, evt.RefundID)
	if err != nil {
		return fmt.Errorf("worker: process refund %s: %w", evt.RefundID, err)
	}
	logctx.FromOr(ctx, w.log).Info("refund_processed",
		observability.F("refund_id", res.RefundID),
		observability.F("status", string(res.Status)),
	)
	return nil
}
