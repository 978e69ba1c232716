package payment

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

const useCaseProcessPayment = "payment.process"

type ProcessPaymentResult struct {
	PaymentID            string
	OrderID              string
	Status               domain.Status
	GatewayTransactionID string
	ResponseCode         string
}

// ProcessPaymentUseCase captures a pending payment through the gateway.
// A decline is a successful execution that leaves the payment FAILED.
type ProcessPaymentUseCase struct {
	payments domain.Repository
	gateway  domain.Gateway
	retrier  *retry.Retrier
	events   *application.EventSink
	in       application.Instruments

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewProcessPaymentUseCase(
	payments domain.Repository,
	gateway domain.Gateway,
	retrier *retry.Retrier,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *ProcessPaymentUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &ProcessPaymentUseCase{
		payments:     payments,
		gateway:      gateway,
		retrier:      retrier,
		events:       application.NewEventSink(publisher, tel),
		in:           application.NewInstruments(tel, paymentService),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

var _ application.UseCase[string, *ProcessPaymentResult] = (*ProcessPaymentUseCase)(nil)

func (uc *ProcessPaymentUseCase) Execute(ctx context.Context, paymentID string) (_ *ProcessPaymentResult, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseProcessPayment, "ProcessPayment",
		attribute.String("payment.id", paymentID),
	)
	defer func() { call.End(err) }()

	if paymentID == "" {
		call.Fail("PAYMENT_ID_REQUIRED")
		return nil, application.Invalid("payment: payment id is required")
	}

	p, started, err := mutatePayment(ctx, uc.payments, uc.retrier, paymentID, func(p *domain.Payment) (domain.StatusChangedEvent, error) {
		return p.StartProcessing()
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, fmt.Errorf("payment: start processing: %w", err)
	}
	call.With(observability.F("order_id", p.OrderID))

	done := observeExternal(uc.extCounter, uc.extHistogram, "charge")
	charge, gwErr := uc.gateway.Charge(ctx, p.ID, p.Method, p.Amount)
	done(gwErr)

	// The outcome is settled here; only the save is retried.
	settle := func(p *domain.Payment) (domain.StatusChangedEvent, error) {
		switch {
		case gwErr != nil:
			return p.Fail(ResponseGatewayError, gwErr.Error())
		case !charge.Approved:
			return p.Fail(charge.ResponseCode, charge.RawResponse)
		default:
			return p.Complete(charge.GatewayTransactionID, charge.ResponseCode)
		}
	}
	p, settled, err := mutatePayment(ctx, uc.payments, uc.retrier, paymentID, settle)
	if err != nil {
		call.Fail(statusFor(err))
		call.Logger().Error("payment_settle_failed",
			observability.F("payment_id", paymentID),
			observability.F("gateway_transaction_id", charge.GatewayTransactionID),
		)
		return nil, fmt.Errorf("payment: settle: %w", err)
	}

	_ = uc.events.Publish(ctx, started, settled)

	res := &ProcessPaymentResult{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		Status:       p.Status,
		ResponseCode: settled.ResponseCode,
	}
	if p.Status == domain.StatusCompleted {
		res.GatewayTransactionID = charge.GatewayTransactionID
	} else {
		call.Status("PAYMENT_DECLINED")
		if gwErr != nil {
			call.Status(ResponseGatewayError)
		}
	}
	call.Span().SetAttributes(attribute.String("payment.status", string(p.Status)))
	return res, nil
}

const gatewayPeer = "payment-gateway"

// observeExternal starts timing a gateway call; the returned func records it.
func observeExternal(counter observability.Counter, hist observability.Histogram, endpoint string) func(error) {
	start := time.Now()
	return func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		if counter != nil {
			counter.Add(1,
				observability.L("peer", gatewayPeer),
				observability.L("endpoint", endpoint),
				observability.L("outcome", outcome),
			)
		}
		if hist != nil {
			hist.Observe(time.Since(start).Seconds(),
				observability.L("peer", gatewayPeer),
				observability.L("endpoint", endpoint),
			)
		}
	}
}
