package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.place_order"
	aggregateCoupon = "coupon"

	abandonReason = "checkout failed"
)

// ErrInProgress is returned when the same idempotency key is already being processed.
var ErrInProgress = shared.NewError(shared.CodeAlreadyExists, "checkout: request with this idempotency key is in progress")

type Line struct {
	SKU         string
	ProductName string
	VariantName string
	LocationID  string
	VariantID   string
	Quantity    uint
	UnitPrice   decimal.Decimal
}

type Input struct {
	IdempotencyKey  string
	UserID          string
	Lines           []Line
	ShippingTotal   decimal.Decimal
	TaxTotal        decimal.Decimal
	CouponCode      string
	ShippingAddress order.Address
	BillingAddress  order.Address
	PaymentMethod   payment.Method
}

type Result struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Status        order.Status    `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Replayed      bool            `json:"-"`
}

type Dependencies struct {
	Stock       StockReserver
	Coupons     coupon.Repository
	Orders      order.Repository
	Payments    payment.Repository
	IDs         IDGenerator
	Numbers     order.NumberGenerator
	Idempotency IdempotencyStore
	Retrier     *retry.Retrier
	Publisher   domoutbox.Publisher
}

// CheckoutUseCase places an order: it reserves stock, applies the coupon,
// writes the order and opens its payment. When a step fails, everything
// already done is undone before the error is returned.
type CheckoutUseCase struct {
	deps   Dependencies
	events *application.EventSink
	in     application.Instruments
	now    func() time.Time
}

func NewCheckoutUseCase(deps Dependencies, tel observability.Observability) *CheckoutUseCase {
	return &CheckoutUseCase{
		deps:   deps,
		events: application.NewEventSink(deps.Publisher, tel),
		in:     application.NewInstruments(tel, checkoutService),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type reservation struct {
	key stock.Key
	qty uint
}

// compensation records what has been done so far so it can be undone.
type compensation struct {
	reserved   []reservation
	couponCode string
	order      *order.Order
}

var _ application.UseCase[Input, *Result] = (*CheckoutUseCase)(nil)

func (uc *CheckoutUseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	ctx, call := uc.in.Begin(ctx, useCaseCheckout, "Checkout",
		attribute.String("checkout.user_id", cmd.UserID),
		attribute.Int("checkout.lines", len(cmd.Lines)),
		attribute.Bool("checkout.coupon", cmd.CouponCode != ""),
	)
	defer func() { call.End(err) }()

	if status, verr := validate(cmd); verr != nil {
		call.Fail(status)
		return nil, verr
	}

	if cmd.IdempotencyKey != "" && uc.deps.Idempotency != nil {
		stored, claimed, cerr := uc.deps.Idempotency.Claim(ctx, cmd.IdempotencyKey)
		switch {
		case cerr != nil:
			call.Fail("IDEMPOTENCY_LOOKUP_FAILED")
			return nil, fmt.Errorf("checkout: claim idempotency key: %w", cerr)
		case !claimed && stored == nil:
			call.Fail("IDEMPOTENCY_IN_PROGRESS")
			return nil, ErrInProgress
		case !claimed:
			var res Result
			if jerr := json.Unmarshal(stored, &res); jerr != nil {
				call.Fail("IDEMPOTENCY_DECODE_FAILED")
				return nil, fmt.Errorf("checkout: decode stored result: %w", jerr)
			}
			res.Replayed = true
			call.Status("IDEMPOTENT_REPLAY")
			call.Span().AddEvent("checkout.idempotent_replay",
				trace.WithAttributes(attribute.String("order.id", res.OrderID)))
			return &res, nil
		}
		defer func() {
			if err == nil {
				return
			}
			if aerr := uc.deps.Idempotency.Abandon(context.WithoutCancel(ctx), cmd.IdempotencyKey); aerr != nil {
				call.Logger().Warn("idempotency_abandon_failed", observability.F("error", aerr.Error()))
			}
		}()
	}

	comp := &compensation{}
	defer func() {
		if err != nil {
			uc.compensate(context.WithoutCancel(ctx), call, comp)
		}
	}()

	// 1. stock
	for _, l := range cmd.Lines {
		key := stock.Key{LocationID: l.LocationID, VariantID: l.VariantID}
		if _, rerr := uc.deps.Stock.Reserve(ctx, key, l.Quantity); rerr != nil {
			call.Fail(reserveStatus(rerr))
			return nil, fmt.Errorf("checkout: reserve %s: %w", l.SKU, rerr)
		}
		comp.reserved = append(comp.reserved, reservation{key: key, qty: l.Quantity})
	}

	// 2. totals and coupon
	subtotal := decimal.Zero
	for _, l := range cmd.Lines {
		subtotal = subtotal.Add(shared.RoundMoney(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	shipping := shared.RoundMoney(cmd.ShippingTotal)
	tax := shared.RoundMoney(cmd.TaxTotal)
	discount := decimal.Zero
	var pending []domoutbox.Event

	couponCode := coupon.NormalizeCode(cmd.CouponCode)
	if couponCode != "" {
		gross := subtotal.Add(shipping).Add(tax)
		d, ev, cerr := uc.applyCoupon(ctx, couponCode, gross)
		if cerr != nil {
			call.Fail(couponStatus(cerr))
			return nil, fmt.Errorf("checkout: coupon %s: %w", couponCode, cerr)
		}
		comp.couponCode = couponCode
		discount = d
		pending = append(pending, ev)
	}

	// 3. order
	items := make([]order.ItemParams, 0, len(cmd.Lines))
	for _, l := range cmd.Lines {
		items = append(items, order.ItemParams{
			SKU:         l.SKU,
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			LocationID:  l.LocationID,
			VariantID:   l.VariantID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	o, created, oerr := order.New(order.NewParams{
		ID:              uc.deps.IDs.NewID(),
		OrderNumber:     uc.deps.Numbers.NewOrderNumber(),
		UserID:          cmd.UserID,
		Items:           items,
		Subtotal:        subtotal,
		ShippingTotal:   shipping,
		TaxTotal:        tax,
		DiscountTotal:   discount,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		CouponCode:      couponCode,
	})
	if oerr != nil {
		call.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("checkout: construct order: %w", oerr)
	}
	if _, serr := uc.deps.Orders.Save(ctx, o); serr != nil {
		call.Fail("ORDER_SAVE_FAILED")
		return nil, fmt.Errorf("checkout: save order: %w", application.WrapRepositoryError(serr))
	}
	comp.order = o
	pending = append(pending, created)

	// 4. payment; a fully discounted order has nothing to charge
	res := &Result{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		Subtotal:      o.Subtotal,
		DiscountTotal: o.DiscountTotal,
		GrandTotal:    o.GrandTotal,
	}
	if o.GrandTotal.IsPositive() {
		p, pcreated, perr := payment.New(payment.NewParams{
			ID:      uc.deps.IDs.NewID(),
			OrderID: o.ID,
			Amount:  o.GrandTotal,
			Method:  cmd.PaymentMethod,
		})
		if perr != nil {
			call.Fail("PAYMENT_CONSTRUCTION_FAILED")
			return nil, fmt.Errorf("checkout: construct payment: %w", perr)
		}
		if _, serr := uc.deps.Payments.Save(ctx, p); serr != nil {
			call.Fail("PAYMENT_SAVE_FAILED")
			return nil, fmt.Errorf("checkout: save payment: %w", application.WrapRepositoryError(serr))
		}
		res.PaymentID = p.ID
		pending = append(pending, pcreated)
	}

	if cmd.IdempotencyKey != "" && uc.deps.Idempotency != nil {
		b, merr := json.Marshal(res)
		if merr == nil {
			merr = uc.deps.Idempotency.Complete(ctx, cmd.IdempotencyKey, b)
		}
		if merr != nil {
			// the order stands; retries with this key see "in progress" until the claim expires
			call.Status("IDEMPOTENCY_STORE_FAILED")
			call.Logger().Warn("idempotency_complete_failed", observability.F("error", merr.Error()))
		}
	}

	_ = uc.events.Publish(ctx, pending...)

	call.With(
		observability.F("order_id", o.ID),
		observability.F("order_number", o.OrderNumber),
		observability.F("grand_total", o.GrandTotal.StringFixed(shared.MoneyScale)),
	)
	call.Span().SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.grand_total", o.GrandTotal.StringFixed(shared.MoneyScale)),
	)
	return res, nil
}

// applyCoupon calculates the discount and records one use under the
// coupon's version check, so concurrent checkouts cannot exceed the limit.
func (uc *CheckoutUseCase) applyCoupon(ctx context.Context, code string, gross decimal.Decimal) (decimal.Decimal, domoutbox.Event, error) {
	type applied struct {
		discount decimal.Decimal
		event    coupon.UsageChangedEvent
	}
	res, err := retry.OnConflict(ctx, uc.deps.Retrier, aggregateCoupon, func(ctx context.Context) (applied, error) {
		c, found, err := uc.deps.Coupons.Get(ctx, code)
		if err != nil {
			return applied{}, application.WrapRepositoryError(err)
		}
		if !found {
			return applied{}, application.NotFound("coupon", code)
		}
		d, err := c.CalculateDiscountAt(gross, uc.now())
		if err != nil {
			return applied{}, err
		}
		ev := c.RecordUsage()
		if _, err := uc.deps.Coupons.Save(ctx, c); err != nil {
			return applied{}, application.WrapRepositoryError(err)
		}
		return applied{discount: d, event: ev}, nil
	})
	if err != nil {
		return decimal.Zero, nil, err
	}
	return res.discount, res.event, nil
}

// compensate undoes a failed checkout. The order and coupon events of the
// attempt were never published, so their reversals are not published either;
// stock events come from the ledger itself and stay paired.
func (uc *CheckoutUseCase) compensate(ctx context.Context, call *application.Call, comp *compensation) {
	logger := call.Logger()

	if comp.order != nil {
		_, err := retry.OnConflict(ctx, uc.deps.Retrier, "order", func(ctx context.Context) (struct{}, error) {
			o, found, err := uc.deps.Orders.Get(ctx, comp.order.ID)
			if err != nil {
				return struct{}{}, err
			}
			if !found {
				return struct{}{}, application.NotFound("order", comp.order.ID)
			}
			if _, err := o.Cancel(abandonReason); err != nil {
				return struct{}{}, err
			}
			if _, err := uc.deps.Orders.Save(ctx, o); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
		if err != nil {
			logger.Error("compensation_failed", observability.F("step", "order_cancel"),
				observability.F("order_id", comp.order.ID), observability.F("error", err.Error()))
		}
	}

	if comp.couponCode != "" {
		_, err := retry.OnConflict(ctx, uc.deps.Retrier, aggregateCoupon, func(ctx context.Context) (struct{}, error) {
			c, found, err := uc.deps.Coupons.Get(ctx, comp.couponCode)
			if err != nil {
				return struct{}{}, err
			}
			if !found {
				return struct{}{}, application.NotFound("coupon", comp.couponCode)
			}
			c.RevertUsage()
			if _, err := uc.deps.Coupons.Save(ctx, c); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
		if err != nil {
			logger.Error("compensation_failed", observability.F("step", "coupon_revert"),
				observability.F("coupon", comp.couponCode), observability.F("error", err.Error()))
		}
	}

	for i := len(comp.reserved) - 1; i >= 0; i-- {
		r := comp.reserved[i]
		if _, err := uc.deps.Stock.Release(ctx, r.key, r.qty); err != nil {
			logger.Error("compensation_failed", observability.F("step", "stock_release"),
				observability.F("stock_key", r.key.String()), observability.F("error", err.Error()))
		}
	}

	logger.Info("checkout_compensated",
		observability.F("released_lines", len(comp.reserved)),
		observability.F("coupon_reverted", comp.couponCode != ""),
		observability.F("order_cancelled", comp.order != nil),
	)
}

func validate(cmd Input) (string, error) {
	switch {
	case cmd.UserID == "":
		return "USER_ID_REQUIRED", application.Invalid("checkout: user id is required")
	case len(cmd.Lines) == 0:
		return "LINES_REQUIRED", order.ErrNoItems
	case !cmd.PaymentMethod.Valid():
		return "PAYMENT_METHOD_INVALID", payment.ErrInvalidMethod.Detailf("%q", cmd.PaymentMethod)
	case cmd.ShippingTotal.IsNegative() || cmd.TaxTotal.IsNegative():
		return "AMOUNT_INVALID", order.ErrInvalidAmount
	}
	for _, l := range cmd.Lines {
		switch {
		case l.SKU == "":
			return "SKU_REQUIRED", application.Invalid("checkout: line sku is required")
		case !(stock.Key{LocationID: l.LocationID, VariantID: l.VariantID}).Valid():
			return "STOCK_KEY_INVALID", stock.ErrInvalidKey.Detailf("sku %s", l.SKU)
		case l.Quantity == 0:
			return "QUANTITY_INVALID", order.ErrInvalidQuantity.Detailf("sku %s", l.SKU)
		case l.UnitPrice.IsNegative():
			return "AMOUNT_INVALID", order.ErrInvalidAmount.Detailf("sku %s unit price", l.SKU)
		}
	}
	return "", nil
}

func reserveStatus(err error) string {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, shared.ErrNotFound):
		return "STOCK_NOT_FOUND"
	case errors.Is(err, shared.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	default:
		return "STOCK_RESERVE_FAILED"
	}
}

func couponStatus(err error) string {
	if code, ok := shared.CodeOf(err); ok {
		return string(code)
	}
	return "COUPON_APPLY_FAILED"
}
