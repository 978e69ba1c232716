package coupon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

var (
	ErrInactive           = shared.NewError(shared.CodeCouponInactive, "coupon: coupon is not active")
	ErrNotStarted         = shared.NewError(shared.CodeCouponNotStarted, "coupon: coupon is not valid yet")
	ErrExpired            = shared.NewError(shared.CodeCouponExpired, "coupon: coupon has expired")
	ErrUsageLimitExceeded = shared.NewError(shared.CodeUsageLimitExceeded, "coupon: usage limit reached")
	ErrMinOrderNotMet     = shared.NewError(shared.CodeMinOrderNotMet, "coupon: order value below minimum")

	ErrInvalidCode          = shared.NewError(shared.CodeInvalidArgument, "coupon: code is required")
	ErrInvalidDiscountType  = shared.NewError(shared.CodeInvalidArgument, "coupon: unsupported discount type")
	ErrInvalidDiscountValue = shared.NewError(shared.CodeInvalidQuantity, "coupon: discount value out of range")
	ErrInvalidAmount        = shared.NewError(shared.CodeInvalidQuantity, "coupon: amounts must be zero or greater")
	ErrInvalidWindow        = shared.NewError(shared.CodeInvalidArgument, "coupon: start date is after end date")
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	Code              string
	Description       string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	MinOrderValue     decimal.Decimal
	MaxUsageLimit     *uint
	UsageCount        uint
	StartDate         *time.Time
	EndDate           *time.Time
	IsActive          bool
	shared.Versioned
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NewParams struct {
	Code          string
	Description   string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	// MaxDiscountAmount caps percentage discounts; ignored for fixed amounts.
	MaxDiscountAmount *decimal.Decimal
	MinOrderValue     decimal.Decimal
	MaxUsageLimit     *uint
	StartDate         *time.Time
	EndDate           *time.Time
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// New builds an active coupon.
func New(p NewParams) (*Coupon, error) {
	code := NormalizeCode(p.Code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	switch p.DiscountType {
	case DiscountPercentage:
		if !p.DiscountValue.IsPositive() || p.DiscountValue.GreaterThan(hundred) {
			return nil, ErrInvalidDiscountValue.Detailf("percentage %s", p.DiscountValue)
		}
	case DiscountFixedAmount:
		if !p.DiscountValue.IsPositive() {
			return nil, ErrInvalidDiscountValue.Detailf("amount %s", p.DiscountValue)
		}
	default:
		return nil, ErrInvalidDiscountType.Detailf("%q", p.DiscountType)
	}
	if p.MinOrderValue.IsNegative() {
		return nil, ErrInvalidAmount.Detailf("min order value")
	}
	var maxDiscount *decimal.Decimal
	if p.MaxDiscountAmount != nil && p.DiscountType == DiscountPercentage {
		if p.MaxDiscountAmount.IsNegative() {
			return nil, ErrInvalidAmount.Detailf("max discount amount")
		}
		v := shared.RoundMoney(*p.MaxDiscountAmount)
		maxDiscount = &v
	}
	if p.StartDate != nil && p.EndDate != nil && p.StartDate.After(*p.EndDate) {
		return nil, ErrInvalidWindow
	}

	now := time.Now().UTC()
	c := &Coupon{
		Code:              code,
		Description:       p.Description,
		DiscountType:      p.DiscountType,
		DiscountValue:     p.DiscountValue,
		MaxDiscountAmount: maxDiscount,
		MinOrderValue:     shared.RoundMoney(p.MinOrderValue),
		MaxUsageLimit:     cloneUint(p.MaxUsageLimit),
		StartDate:         cloneTime(p.StartDate),
		EndDate:           cloneTime(p.EndDate),
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	c.Bump()
	return c, nil
}

func (c *Coupon) Validate(orderValue decimal.Decimal) error {
	return c.ValidateAt(orderValue, time.Now().UTC())
}

// ValidateAt checks the coupon against orderValue at instant now. The first
// failing rule wins.
func (c *Coupon) ValidateAt(orderValue decimal.Decimal, now time.Time) error {
	if !c.IsActive {
		return ErrInactive.Detailf("%s", c.Code)
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return ErrNotStarted.Detailf("%s starts %s", c.Code, c.StartDate.Format(time.RFC3339))
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return ErrExpired.Detailf("%s ended %s", c.Code, c.EndDate.Format(time.RFC3339))
	}
	if c.MaxUsageLimit != nil && c.UsageCount >= *c.MaxUsageLimit {
		return ErrUsageLimitExceeded.Detailf("%s used %d of %d", c.Code, c.UsageCount, *c.MaxUsageLimit)
	}
	if orderValue.LessThan(c.MinOrderValue) {
		return ErrMinOrderNotMet.Detailf("%s requires %s", c.Code, c.MinOrderValue.StringFixed(shared.MoneyScale))
	}
	return nil
}

func (c *Coupon) CalculateDiscount(orderValue decimal.Decimal) (decimal.Decimal, error) {
	return c.CalculateDiscountAt(orderValue, time.Now().UTC())
}

// CalculateDiscountAt validates the coupon and returns the discount for
// orderValue. The result never exceeds orderValue.
func (c *Coupon) CalculateDiscountAt(orderValue decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if orderValue.IsNegative() {
		return decimal.Zero, ErrInvalidAmount.Detailf("order value")
	}
	if err := c.ValidateAt(orderValue, now); err != nil {
		return decimal.Zero, err
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = orderValue.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount != nil {
			discount = shared.MinMoney(discount, *c.MaxDiscountAmount)
		}
	default:
		discount = c.DiscountValue
	}
	discount = shared.MinMoney(shared.RoundMoney(discount), orderValue)
	return discount, nil
}

// RecordUsage counts one application. A caller that abandons the order
// afterwards gives the use back with RevertUsage.
func (c *Coupon) RecordUsage() UsageChangedEvent {
	c.UsageCount++
	c.touch()
	return c.usageChanged(EventUsageRecorded)
}

// RevertUsage gives one use back, never going below zero.
func (c *Coupon) RevertUsage() UsageChangedEvent {
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	c.touch()
	return c.usageChanged(EventUsageReverted)
}

func (c *Coupon) Activate() {
	c.IsActive = true
	c.touch()
}

func (c *Coupon) Deactivate() {
	c.IsActive = false
	c.touch()
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	cp := *c
	if c.MaxDiscountAmount != nil {
		v := *c.MaxDiscountAmount
		cp.MaxDiscountAmount = &v
	}
	cp.MaxUsageLimit = cloneUint(c.MaxUsageLimit)
	cp.StartDate = cloneTime(c.StartDate)
	cp.EndDate = cloneTime(c.EndDate)
	return &cp
}

func (c *Coupon) touch() {
	c.Bump()
	c.UpdatedAt = time.Now().UTC()
}

func cloneUint(v *uint) *uint {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	x := *t
	return &x
}
