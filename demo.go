package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application/checkout"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

const demoCoupon = "WELCOME10"

var demoKey = stock.Key{LocationID: "wh-main", VariantID: "tee-black-m"}

// runDemo seeds a stock entry and a coupon, then places one order. The
// payment and order workers take it from there.
func (c *core) runDemo(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "demo"))

	if _, err := c.stock.Receive(ctx, demoKey, 20); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}
	if err := c.seedCoupon(ctx); err != nil {
		return fmt.Errorf("seed coupon: %w", err)
	}

	addr := order.Address{
		Recipient:  "Demo Customer",
		Phone:      "+886900000000",
		Line1:      "1 Market Street",
		City:       "Taipei",
		PostalCode: "100",
		Country:    "TW",
	}
	res, err := c.checkout.Execute(ctx, checkout.Input{
		IdempotencyKey: uuid.NewString(),
		UserID:         "demo-user",
		Lines: []checkout.Line{{
			SKU:         "TEE-BLK-M",
			ProductName: "Tee",
			VariantName: "Black / M",
			LocationID:  demoKey.LocationID,
			VariantID:   demoKey.VariantID,
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("19.90"),
		}},
		ShippingTotal:   decimal.RequireFromString("4.00"),
		TaxTotal:        decimal.Zero,
		CouponCode:      demoCoupon,
		ShippingAddress: addr,
		BillingAddress:  addr,
		PaymentMethod:   payment.MethodCreditCard,
	})
	if err != nil {
		return err
	}
	log.Info("demo_order_placed",
		zap.String("order_id", res.OrderID),
		zap.String("order_number", res.OrderNumber),
		zap.String("payment_id", res.PaymentID),
		zap.String("grand_total", res.GrandTotal.StringFixed(2)),
	)
	return nil
}

func (c *core) seedCoupon(ctx context.Context) error {
	if _, ok, err := c.store.coupons.Get(ctx, demoCoupon); err != nil || ok {
		return err
	}
	cp, err := coupon.New(coupon.NewParams{
		Code:          demoCoupon,
		Description:   "10% off the first order",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinOrderValue: decimal.Zero,
	})
	if err != nil {
		return err
	}
	_, err = c.store.coupons.Save(ctx, cp)
	return err
}
