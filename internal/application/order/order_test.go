package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/memory"
)

var keyShirt = stock.Key{LocationID: "wh-1", VariantID: "shirt-m"}

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

type fixture struct {
	stockSvc *inventory.StockService
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
	refunds  *memory.RefundRepository
	coupons  *memory.CouponRepository
	events   *recorder
	retrier  *retry.Retrier
	deps     CancelDependencies
	cancel   *CancelOrderUseCase
	fulfill  *FulfillOrderUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := retry.New(retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, nil)
	f := &fixture{
		orders:   memory.NewOrderRepository(),
		payments: memory.NewPaymentRepository(),
		refunds:  memory.NewRefundRepository(),
		coupons:  memory.NewCouponRepository(),
		events:   &recorder{},
		retrier:  r,
	}
	f.stockSvc = inventory.NewStockService(memory.NewStockRepository(), r, nil, nil)
	_, err := f.stockSvc.Receive(context.Background(), keyShirt, 10)
	require.NoError(t, err)

	f.deps = CancelDependencies{
		Orders:    f.orders,
		Payments:  f.payments,
		Refunds:   f.refunds,
		Coupons:   f.coupons,
		Stock:     f.stockSvc,
		Retrier:   r,
		Publisher: f.events,
	}
	f.cancel = NewCancelOrderUseCase(f.deps, nil)
	f.fulfill = NewFulfillOrderUseCase(f.orders, f.stockSvc, r, f.events, nil)
	return f
}

// placeOrder stands in for checkout: two shirts reserved, one coupon use
// recorded, a pending payment for the grand total.
func (f *fixture) placeOrder(t *testing.T, withCoupon bool) (*domain.Order, *payment.Payment) {
	t.Helper()
	ctx := context.Background()
	_, err := f.stockSvc.Reserve(ctx, keyShirt, 2)
	require.NoError(t, err)

	code := ""
	if withCoupon {
		c, err := coupon.New(coupon.NewParams{Code: "SAVE5", DiscountType: coupon.DiscountFixedAmount, DiscountValue: decimal.NewFromInt(5)})
		require.NoError(t, err)
		c.RecordUsage()
		_, err = f.coupons.Save(ctx, c)
		require.NoError(t, err)
		code = c.Code
	}

	o, _, err := domain.New(domain.NewParams{
		ID:          "order-1",
		OrderNumber: "ORD-20261014-0000AAAA",
		UserID:      "user-1",
		Items: []domain.ItemParams{{
			SKU: "SHIRT-M", LocationID: keyShirt.LocationID, VariantID: keyShirt.VariantID,
			Quantity: 2, UnitPrice: decimal.RequireFromString("25.00"),
		}},
		Subtotal:   decimal.RequireFromString("50.00"),
		CouponCode: code,
	})
	require.NoError(t, err)
	_, err = f.orders.Save(ctx, o)
	require.NoError(t, err)

	p, _, err := payment.New(payment.NewParams{ID: "pay-1", OrderID: o.ID, Amount: o.GrandTotal, Method: payment.MethodCreditCard})
	require.NoError(t, err)
	_, err = f.payments.Save(ctx, p)
	require.NoError(t, err)
	return o, p
}

func (f *fixture) capture(t *testing.T, paymentID string) {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.payments.Get(ctx, paymentID)
	require.NoError(t, err)
	_, err = p.StartProcessing()
	require.NoError(t, err)
	_, err = p.Complete("gw-tx-1", "00")
	require.NoError(t, err)
	_, err = f.payments.Save(ctx, p)
	require.NoError(t, err)
}

func (f *fixture) entry(t *testing.T) *stock.Entry {
	t.Helper()
	e, err := f.stockSvc.Get(context.Background(), keyShirt)
	require.NoError(t, err)
	return e
}

func TestCancel_PendingPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, true)

	res, err := f.cancel.Execute(ctx, CancelOrderInput{OrderID: "order-1", Reason: "changed mind"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, payment.StatusCancelled, res.PaymentStatus)
	assert.Empty(t, res.RefundID)

	assert.Equal(t, uint(0), f.entry(t).QuantityReserved)

	c, _, err := f.coupons.Get(ctx, "SAVE5")
	require.NoError(t, err)
	assert.Equal(t, uint(0), c.UsageCount)

	o, _, err := f.orders.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "changed mind", o.CancelReason)
	assert.NotNil(t, o.CancelledAt)

	assert.Equal(t, []string{"order.cancelled", coupon.EventUsageReverted, payment.EventCancelled}, f.events.names())
}

func TestCancel_CompletedPaymentOpensRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)
	f.capture(t, p.ID)

	res, err := f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID, Reason: "out of stock at carrier"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, res.PaymentStatus)
	require.NotEmpty(t, res.RefundID)

	refund, found, err := f.refunds.Get(ctx, res.RefundID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payment.RefundPending, refund.Status)
	assert.True(t, refund.RefundAmount.Equal(o.GrandTotal))
	assert.Equal(t, o.ID, refund.OrderID)
	assert.Contains(t, f.events.names(), payment.EventRefundRequested)
}

func TestCancel_RejectsPaymentInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)

	loaded, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	_, err = loaded.StartProcessing()
	require.NoError(t, err)
	_, err = f.payments.Save(ctx, loaded)
	require.NoError(t, err)

	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatusTransition)

	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, uint(2), f.entry(t).QuantityReserved)
	assert.Empty(t, f.events.names())
}

func TestCancel_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.cancel.Execute(ctx, CancelOrderInput{})
	code, _ := shared.CodeOf(err)
	assert.Equal(t, shared.CodeInvalidArgument, code)

	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: "missing"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	o, _ := f.placeOrder(t, false)
	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID})
	require.NoError(t, err)
	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidStatusTransition)
}

func TestFulfil_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, _ := f.placeOrder(t, false)

	_, err := f.fulfill.Ship(ctx, o.ID, "TRACK-1")
	require.ErrorIs(t, err, shared.ErrInvalidStatusTransition)
	assert.Equal(t, uint(2), f.entry(t).QuantityReserved, "no stock moves for an order that cannot ship")

	_, err = f.fulfill.Confirm(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.fulfill.StartProcessing(ctx, o.ID)
	require.NoError(t, err)

	shipped, err := f.fulfill.Ship(ctx, o.ID, "TRACK-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, shipped.Status)
	assert.Equal(t, "TRACK-1", shipped.TrackingNumber)

	e := f.entry(t)
	assert.Equal(t, uint(8), e.QuantityOnHand)
	assert.Equal(t, uint(0), e.QuantityReserved)

	delivered, err := f.fulfill.Deliver(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveredAt)

	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidStatusTransition)

	refunded, err := f.fulfill.MarkRefunded(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)

	assert.Equal(t, []string{
		"order.confirmed", "order.processing", "order.shipped", "order.delivered", "order.refunded",
	}, f.events.names())
}

func TestWorker_ConfirmsOnPaymentCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)

	w := NewWorker(f.fulfill, f.cancel, nil)
	evt := payment.StatusChangedEvent{PaymentID: p.ID, OrderID: o.ID, From: payment.StatusProcessing, To: payment.StatusCompleted}
	require.Equal(t, payment.EventCompleted, evt.EventName())

	require.NoError(t, w.handlePaymentCompleted(ctx, evt))
	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	// redelivery is a no-op
	require.NoError(t, w.handlePaymentCompleted(ctx, evt))

	err = w.handlePaymentCompleted(ctx, payment.StatusChangedEvent{OrderID: "missing", To: payment.StatusCompleted})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.NoError(t, w.handleLowStock(ctx, stock.LowStockEvent{LocationID: "wh-1", VariantID: "mug"}))
}

var keyMug = stock.Key{LocationID: "wh-1", VariantID: "mug"}

// failingLedger refuses to confirm sales for one key.
type failingLedger struct {
	StockLedger
	failOn stock.Key
}

func (l failingLedger) ConfirmSale(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error) {
	if key == l.failOn {
		return nil, errors.New("ledger unavailable")
	}
	return l.StockLedger.ConfirmSale(ctx, key, qty)
}

func TestShip_PartialFailureRestoresReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.stockSvc.Receive(ctx, keyMug, 5)
	require.NoError(t, err)
	_, err = f.stockSvc.Reserve(ctx, keyShirt, 2)
	require.NoError(t, err)
	_, err = f.stockSvc.Reserve(ctx, keyMug, 1)
	require.NoError(t, err)

	o, _, err := domain.New(domain.NewParams{
		ID:          "order-2",
		OrderNumber: "ORD-20261014-0000BBBB",
		UserID:      "user-1",
		Items: []domain.ItemParams{
			{SKU: "SHIRT-M", LocationID: keyShirt.LocationID, VariantID: keyShirt.VariantID, Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")},
			{SKU: "MUG", LocationID: keyMug.LocationID, VariantID: keyMug.VariantID, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
		Subtotal: decimal.RequireFromString("60.00"),
	})
	require.NoError(t, err)
	_, err = f.orders.Save(ctx, o)
	require.NoError(t, err)
	_, err = f.fulfill.Confirm(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.fulfill.StartProcessing(ctx, o.ID)
	require.NoError(t, err)

	fulfill := NewFulfillOrderUseCase(f.orders, failingLedger{StockLedger: f.stockSvc, failOn: keyMug}, f.retrier, f.events, nil)
	_, err = fulfill.Ship(ctx, o.ID, "TRACK-2")
	require.Error(t, err)

	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.False(t, got.ShipmentInProgress(), "a failed shipment drops its claim")
	shirt := f.entry(t)
	assert.Equal(t, uint(10), shirt.QuantityOnHand)
	assert.Equal(t, uint(2), shirt.QuantityReserved)

	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID})
	require.NoError(t, err)
	shirt = f.entry(t)
	assert.Equal(t, uint(10), shirt.QuantityOnHand)
	assert.Equal(t, uint(0), shirt.QuantityReserved)
	mug, err := f.stockSvc.Get(ctx, keyMug)
	require.NoError(t, err)
	assert.Equal(t, uint(5), mug.QuantityOnHand)
	assert.Equal(t, uint(0), mug.QuantityReserved)
}

// cancellingLedger cancels the order right after the first sale is
// confirmed, as a cancel request arriving mid-shipment would.
type cancellingLedger struct {
	StockLedger
	cancel    *CancelOrderUseCase
	orderID   string
	fired     bool
	cancelErr error
}

func (l *cancellingLedger) ConfirmSale(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error) {
	e, err := l.StockLedger.ConfirmSale(ctx, key, qty)
	if err == nil && !l.fired {
		l.fired = true
		_, l.cancelErr = l.cancel.Execute(ctx, CancelOrderInput{OrderID: l.orderID, Reason: "changed mind"})
	}
	return e, err
}

func TestShip_CancelDuringShipmentIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)
	_, err := f.fulfill.Confirm(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.fulfill.StartProcessing(ctx, o.ID)
	require.NoError(t, err)

	ledger := &cancellingLedger{StockLedger: f.stockSvc, cancel: f.cancel, orderID: o.ID}
	fulfill := NewFulfillOrderUseCase(f.orders, ledger, f.retrier, f.events, nil)
	shipped, err := fulfill.Ship(ctx, o.ID, "TRACK-3")
	require.NoError(t, err)
	require.True(t, ledger.fired)
	assert.ErrorIs(t, ledger.cancelErr, shared.ErrInvalidStatusTransition)

	assert.Equal(t, domain.StatusShipped, shipped.Status)
	assert.False(t, shipped.ShipmentInProgress())
	e := f.entry(t)
	assert.Equal(t, uint(8), e.QuantityOnHand)
	assert.Equal(t, uint(0), e.QuantityReserved)

	pay, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, pay.Status, "the rejected cancel reversed nothing")
	assert.NotContains(t, f.events.names(), domain.EventCancelled)
}

func TestShip_AfterCancelMovesNoStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, _ := f.placeOrder(t, false)
	_, err := f.fulfill.Confirm(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.fulfill.StartProcessing(ctx, o.ID)
	require.NoError(t, err)

	// another order's hold on the same variant
	_, err = f.stockSvc.Reserve(ctx, keyShirt, 3)
	require.NoError(t, err)

	_, err = f.cancel.Execute(ctx, CancelOrderInput{OrderID: o.ID, Reason: "changed mind"})
	require.NoError(t, err)

	_, err = f.fulfill.Ship(ctx, o.ID, "TRACK-4")
	require.ErrorIs(t, err, shared.ErrInvalidStatusTransition)

	e := f.entry(t)
	assert.Equal(t, uint(10), e.QuantityOnHand)
	assert.Equal(t, uint(3), e.QuantityReserved, "the other order keeps its reservation")

	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.False(t, got.ShipmentInProgress())
}

type downPublisher struct{}

func (downPublisher) Publish(context.Context, domoutbox.Event) error {
	return errors.New("broker unreachable")
}

func TestFulfil_PublishFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, _ := f.placeOrder(t, false)
	fulfill := NewFulfillOrderUseCase(f.orders, f.stockSvc, f.retrier, downPublisher{}, nil)

	confirmed, err := fulfill.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	_, err = fulfill.StartProcessing(ctx, o.ID)
	require.NoError(t, err)

	shipped, err := fulfill.Ship(ctx, o.ID, "TRACK-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, shipped.Status)

	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, got.Status)
	assert.Equal(t, uint(8), f.entry(t).QuantityOnHand)
}

// racingPayments moves the payment to PROCESSING after the cancel guards have
// looked at it, as a payment worker running concurrently would.
type racingPayments struct {
	*memory.PaymentRepository
	t     *testing.T
	calls int
}

func (g *racingPayments) FindByOrder(ctx context.Context, orderID string) (*payment.Payment, bool, error) {
	g.calls++
	if g.calls == 2 {
		p, found, err := g.PaymentRepository.FindByOrder(ctx, orderID)
		require.NoError(g.t, err)
		require.True(g.t, found)
		_, err = p.StartProcessing()
		require.NoError(g.t, err)
		_, err = g.PaymentRepository.Save(ctx, p)
		require.NoError(g.t, err)
	}
	return g.PaymentRepository.FindByOrder(ctx, orderID)
}

func TestWorker_RefundsPaymentCapturedAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)

	deps := f.deps
	deps.Payments = &racingPayments{PaymentRepository: f.payments, t: t}
	_, err := NewCancelOrderUseCase(deps, nil).Execute(ctx, CancelOrderInput{OrderID: o.ID, Reason: "too slow"})
	require.ErrorContains(t, err, "reversal incomplete")

	loaded, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusProcessing, loaded.Status)
	evt, err := loaded.Complete("gw-tx-7", "00")
	require.NoError(t, err)
	_, err = f.payments.Save(ctx, loaded)
	require.NoError(t, err)

	w := NewWorker(f.fulfill, f.cancel, nil)
	require.NoError(t, w.handlePaymentCompleted(ctx, evt))

	got, _, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	settled, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, settled.Status)

	var requested *payment.RefundRequestedEvent
	for _, e := range f.events.events {
		if ev, ok := e.(payment.RefundRequestedEvent); ok {
			requested = &ev
		}
	}
	require.NotNil(t, requested)
	refund, found, err := f.refunds.Get(ctx, requested.RefundID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payment.RefundPending, refund.Status)
	assert.True(t, refund.RefundAmount.Equal(o.GrandTotal))

	// a redelivered completion does not open a second refund
	require.NoError(t, w.handlePaymentCompleted(ctx, evt))
	assert.Equal(t, 1, countNamed(f.events.names(), payment.EventRefundRequested))
}

func countNamed(names []string, name string) int {
	n := 0
	for _, got := range names {
		if got == name {
			n++
		}
	}
	return n
}

type brokenRefunds struct {
	*memory.RefundRepository
}

func (brokenRefunds) Save(context.Context, *payment.Refund) (uint64, error) {
	return 0, errors.New("refund store down")
}

func TestCancel_RefundSaveFailureKeepsPaymentRefundable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)
	f.capture(t, p.ID)

	deps := f.deps
	deps.Refunds = brokenRefunds{f.refunds}
	res, err := NewCancelOrderUseCase(deps, nil).Execute(ctx, CancelOrderInput{OrderID: o.ID})
	require.ErrorContains(t, err, "reversal incomplete")
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Empty(t, res.RefundID)
	assert.NotContains(t, f.events.names(), payment.EventRefundRequested)

	loaded, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, loaded.Status)

	retried, err := f.cancel.ReconcileCancelled(ctx, o.ID)
	require.NoError(t, err)
	require.NotEmpty(t, retried.RefundID)
	assert.Equal(t, payment.StatusRefunded, retried.PaymentStatus)
	_, found, err := f.refunds.Get(ctx, retried.RefundID)
	require.NoError(t, err)
	assert.True(t, found)
}

// refundingPayments rejects the save that marks a payment refunded and
// remembers every refund written next to it.
type refundingPayments struct {
	*memory.PaymentRepository
}

func (r refundingPayments) Save(ctx context.Context, p *payment.Payment) (uint64, error) {
	if p.Status == payment.StatusRefunded {
		return 0, errors.New("payment store down")
	}
	return r.PaymentRepository.Save(ctx, p)
}

type savedRefunds struct {
	*memory.RefundRepository
	ids []string
}

func (s *savedRefunds) Save(ctx context.Context, r *payment.Refund) (uint64, error) {
	s.ids = append(s.ids, r.ID)
	return s.RefundRepository.Save(ctx, r)
}

func TestCancel_PaymentSaveFailureVoidsRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, p := f.placeOrder(t, false)
	f.capture(t, p.ID)

	refunds := &savedRefunds{RefundRepository: f.refunds}
	deps := f.deps
	deps.Payments = refundingPayments{f.payments}
	deps.Refunds = refunds
	_, err := NewCancelOrderUseCase(deps, nil).Execute(ctx, CancelOrderInput{OrderID: o.ID})
	require.ErrorContains(t, err, "reversal incomplete")

	require.NotEmpty(t, refunds.ids)
	orphan, found, err := f.refunds.Get(ctx, refunds.ids[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payment.RefundFailed, orphan.Status)

	loaded, _, err := f.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, loaded.Status)
	assert.NotContains(t, f.events.names(), payment.EventRefundRequested)
}
