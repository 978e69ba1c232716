package main

import (
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/checkout"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-commerce/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-commerce/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/config"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	workerpresentation "github.com/Zhima-Mochi/minishop-commerce/internal/presentation/worker"
)

// core holds the transaction use cases wired to one storage backend.
type core struct {
	store *storage

	stock    *inventory.StockService
	checkout *checkout.CheckoutUseCase
	cancel   *apporder.CancelOrderUseCase
	fulfill  *apporder.FulfillOrderUseCase
	pay      *apppayment.ProcessPaymentUseCase
	refund   *apppayment.ProcessRefundUseCase

	orderWorker   *apporder.Worker
	paymentWorker *apppayment.Worker
}

func newCore(cfg config.Config, store *storage, publisher domoutbox.Publisher, tel observability.Observability) *core {
	retrier := retry.New(retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}, tel)
	gw := gateway.NewSimulator(cfg.GatewaySuccessRate)

	c := &core{store: store}
	c.stock = inventory.NewStockService(store.stock, retrier, publisher, tel,
		inventory.WithDefaultThreshold(cfg.LowStockDefault))
	c.checkout = checkout.NewCheckoutUseCase(checkout.Dependencies{
		Stock:       c.stock,
		Coupons:     store.coupons,
		Orders:      store.orders,
		Payments:    store.payments,
		IDs:         id.NewUUIDGenerator(),
		Numbers:     id.NewOrderNumberGenerator(),
		Idempotency: store.idempotency,
		Retrier:     retrier,
		Publisher:   publisher,
	}, tel)
	c.cancel = apporder.NewCancelOrderUseCase(apporder.CancelDependencies{
		Orders:    store.orders,
		Payments:  store.payments,
		Refunds:   store.refunds,
		Coupons:   store.coupons,
		Stock:     c.stock,
		Retrier:   retrier,
		Publisher: publisher,
	}, tel)
	c.fulfill = apporder.NewFulfillOrderUseCase(store.orders, c.stock, retrier, publisher, tel)
	c.pay = apppayment.NewProcessPaymentUseCase(store.payments, gw, retrier, publisher, tel)
	c.refund = apppayment.NewProcessRefundUseCase(apppayment.RefundDependencies{
		Refunds:   store.refunds,
		Payments:  store.payments,
		Orders:    store.orders,
		Gateway:   gw,
		Retrier:   retrier,
		Publisher: publisher,
	}, tel)

	c.orderWorker = apporder.NewWorker(c.fulfill, c.cancel, tel)
	c.paymentWorker = apppayment.NewWorker(c.pay, c.refund, tel)
	return c
}

func (c *core) startWorkers(sub domoutbox.Subscriber, tel observability.Observability) {
	c.orderWorker.Start(workerpresentation.NewSubscriber(sub, tel, "order-worker"))
	c.paymentWorker.Start(workerpresentation.NewSubscriber(sub, tel, "payment-worker"))
}
