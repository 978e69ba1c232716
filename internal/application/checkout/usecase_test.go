package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/memory"
)

var (
	keyShirt = stock.Key{LocationID: "wh-1", VariantID: "shirt-m"}
	keyMug   = stock.Key{LocationID: "wh-1", VariantID: "mug"}
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func (s *seqIDs) NewOrderNumber() string { return "ORD-" + s.NewID() }

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

func (r *recorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventName() == name {
			return true
		}
	}
	return false
}

type failingPayments struct {
	payment.Repository
}

func (failingPayments) Save(context.Context, *payment.Payment) (uint64, error) {
	return 0, errors.New("disk full")
}

type fixture struct {
	uc       *CheckoutUseCase
	stockSvc *inventory.StockService
	coupons  *memory.CouponRepository
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
	idem     *memory.IdempotencyStore
	events   *recorder
}

func newFixture(t *testing.T, mutate ...func(*Dependencies)) *fixture {
	t.Helper()
	ctx := context.Background()
	r := retry.New(retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, nil)

	f := &fixture{
		coupons:  memory.NewCouponRepository(),
		orders:   memory.NewOrderRepository(),
		payments: memory.NewPaymentRepository(),
		idem:     memory.NewIdempotencyStore(time.Hour),
		events:   &recorder{},
	}
	f.stockSvc = inventory.NewStockService(memory.NewStockRepository(), r, nil, nil)
	_, err := f.stockSvc.Receive(ctx, keyShirt, 10)
	require.NoError(t, err)
	_, err = f.stockSvc.Receive(ctx, keyMug, 1)
	require.NoError(t, err)

	ids := &seqIDs{}
	deps := Dependencies{
		Stock:       f.stockSvc,
		Coupons:     f.coupons,
		Orders:      f.orders,
		Payments:    f.payments,
		IDs:         ids,
		Numbers:     ids,
		Idempotency: f.idem,
		Retrier:     r,
		Publisher:   f.events,
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.uc = NewCheckoutUseCase(deps, nil)
	return f
}

func (f *fixture) addCoupon(t *testing.T, p coupon.NewParams) {
	t.Helper()
	c, err := coupon.New(p)
	require.NoError(t, err)
	_, err = f.coupons.Save(context.Background(), c)
	require.NoError(t, err)
}

func (f *fixture) reserved(t *testing.T, key stock.Key) uint {
	t.Helper()
	e, err := f.stockSvc.Get(context.Background(), key)
	require.NoError(t, err)
	return e.QuantityReserved
}

func (f *fixture) usage(t *testing.T, code string) uint {
	t.Helper()
	c, ok, err := f.coupons.Get(context.Background(), code)
	require.NoError(t, err)
	require.True(t, ok)
	return c.UsageCount
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseInput() Input {
	return Input{
		UserID: "u-1",
		Lines: []Line{
			{SKU: "SHIRT-M", LocationID: keyShirt.LocationID, VariantID: keyShirt.VariantID, Quantity: 2, UnitPrice: dec("25.00")},
			{SKU: "MUG", LocationID: keyMug.LocationID, VariantID: keyMug.VariantID, Quantity: 1, UnitPrice: dec("12.50")},
		},
		ShippingTotal: dec("5.00"),
		TaxTotal:      dec("2.50"),
		PaymentMethod: payment.MethodCreditCard,
	}
}

func TestCheckout_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.Execute(ctx, baseInput())
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, order.StatusPending, res.Status)
	assert.True(t, res.Subtotal.Equal(dec("62.50")))
	assert.True(t, res.GrandTotal.Equal(dec("70.00")), res.GrandTotal.String())

	assert.Equal(t, uint(2), f.reserved(t, keyShirt))
	assert.Equal(t, uint(1), f.reserved(t, keyMug))

	o, ok, err := f.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, keyShirt.VariantID, o.Items[0].VariantID)

	p, ok, err := f.payments.FindByOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.PaymentID, p.ID)
	assert.True(t, p.Amount.Equal(res.GrandTotal))
	assert.Equal(t, payment.StatusPending, p.Status)

	assert.True(t, f.events.has(order.EventCreated))
	assert.True(t, f.events.has(payment.EventCreated))
}

func TestCheckout_WithCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	maxDiscount := dec("5.00")
	f.addCoupon(t, coupon.NewParams{
		Code: "SAVE10", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("10"),
		MaxDiscountAmount: &maxDiscount,
	})

	in := baseInput()
	in.CouponCode = " save10 "
	res, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)

	// 10% of 70.00 is 7.00, capped at 5.00
	assert.True(t, res.DiscountTotal.Equal(dec("5.00")), res.DiscountTotal.String())
	assert.True(t, res.GrandTotal.Equal(dec("65.00")), res.GrandTotal.String())
	assert.Equal(t, uint(1), f.usage(t, "SAVE10"))
	assert.True(t, f.events.has(coupon.EventUsageRecorded))

	o, _, err := f.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.CouponCode)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in := baseInput()
	in.Lines = in.Lines[:1]
	in.IdempotencyKey = "client-key-1"

	first, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)
	second, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, first.GrandTotal.Equal(second.GrandTotal))
	assert.Equal(t, uint(2), f.reserved(t, keyShirt), "replay must not reserve again")
}

func TestCheckout_InProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, claimed, err := f.idem.Claim(ctx, "busy")
	require.NoError(t, err)
	require.True(t, claimed)

	in := baseInput()
	in.IdempotencyKey = "busy"
	_, err = f.uc.Execute(ctx, in)
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, uint(0), f.reserved(t, keyShirt))
}

func TestCheckout_InsufficientStockReleasesEarlierLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCoupon(t, coupon.NewParams{Code: "FLAT", DiscountType: coupon.DiscountFixedAmount, DiscountValue: dec("3")})

	in := baseInput()
	in.Lines[1].Quantity = 2 // only one mug on hand
	in.CouponCode = "FLAT"
	in.IdempotencyKey = "k-stock"

	_, err := f.uc.Execute(ctx, in)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	assert.Equal(t, uint(0), f.reserved(t, keyShirt))
	assert.Equal(t, uint(0), f.reserved(t, keyMug))
	assert.Equal(t, uint(0), f.usage(t, "FLAT"))

	_, claimed, err := f.idem.Claim(ctx, "k-stock")
	require.NoError(t, err)
	assert.True(t, claimed, "failed checkout releases its idempotency claim")
}

func TestCheckout_PaymentFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *Dependencies) {
		d.Payments = failingPayments{Repository: d.Payments}
	})
	f.addCoupon(t, coupon.NewParams{Code: "FLAT", DiscountType: coupon.DiscountFixedAmount, DiscountValue: dec("3")})

	in := baseInput()
	in.CouponCode = "FLAT"
	_, err := f.uc.Execute(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, application.ErrRepository)

	assert.Equal(t, uint(0), f.reserved(t, keyShirt))
	assert.Equal(t, uint(0), f.reserved(t, keyMug))
	assert.Equal(t, uint(0), f.usage(t, "FLAT"))

	o, ok, err := f.orders.Get(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, abandonReason, o.CancelReason)
	for _, name := range []string{order.EventCreated, order.EventCancelled, coupon.EventUsageRecorded, coupon.EventUsageReverted} {
		assert.False(t, f.events.has(name), "unpublished attempt leaks %s", name)
	}
}

func TestCheckout_CouponRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCoupon(t, coupon.NewParams{
		Code: "BIG", DiscountType: coupon.DiscountFixedAmount, DiscountValue: dec("10"), MinOrderValue: dec("500"),
	})

	in := baseInput()
	in.CouponCode = "BIG"
	_, err := f.uc.Execute(ctx, in)
	require.ErrorIs(t, err, coupon.ErrMinOrderNotMet)
	assert.Equal(t, uint(0), f.reserved(t, keyShirt))
	assert.Equal(t, uint(0), f.usage(t, "BIG"))

	in.CouponCode = "NOPE"
	_, err = f.uc.Execute(ctx, in)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckout_FullyDiscountedSkipsPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCoupon(t, coupon.NewParams{Code: "FREE", DiscountType: coupon.DiscountPercentage, DiscountValue: dec("100")})

	in := baseInput()
	in.CouponCode = "FREE"
	res, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.GrandTotal.IsZero())
	assert.Empty(t, res.PaymentID)

	_, ok, err := f.payments.FindByOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Input)
		code   shared.Code
	}{
		{"no user", func(in *Input) { in.UserID = "" }, shared.CodeInvalidArgument},
		{"no lines", func(in *Input) { in.Lines = nil }, shared.CodeInvalidArgument},
		{"zero quantity", func(in *Input) { in.Lines[0].Quantity = 0 }, shared.CodeInvalidQuantity},
		{"missing variant", func(in *Input) { in.Lines[0].VariantID = "" }, shared.CodeInvalidArgument},
		{"bad method", func(in *Input) { in.PaymentMethod = "BARTER" }, shared.CodeInvalidArgument},
		{"negative tax", func(in *Input) { in.TaxTotal = dec("-1") }, shared.CodeInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			_, err := f.uc.Execute(context.Background(), in)
			require.Error(t, err)
			code, ok := shared.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}
	assert.Equal(t, uint(0), f.reserved(t, keyShirt))
}
