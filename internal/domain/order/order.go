package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

var (
	ErrInvalidQuantity = shared.NewError(shared.CodeInvalidQuantity, "order: item quantity must be greater than zero")
	ErrInvalidAmount   = shared.NewError(shared.CodeInvalidQuantity, "order: amounts must be zero or greater")
	ErrTotalsMismatch  = shared.NewError(shared.CodeInvalidQuantity, "order: subtotal does not match item totals")
	ErrDiscountTooHigh = shared.NewError(shared.CodeInvalidQuantity, "order: discount exceeds order value")
	ErrNoItems         = shared.NewError(shared.CodeInvalidArgument, "order: at least one item is required")
	ErrMissingField    = shared.NewError(shared.CodeInvalidArgument, "order: required field missing")
)

type Address struct {
	Recipient  string
	Phone      string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Item is a frozen snapshot of a purchased line. It does not follow later
// catalog changes.
type Item struct {
	SKU         string
	ProductName string
	VariantName string
	LocationID  string
	VariantID   string
	Quantity    uint
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          Status
	Subtotal        decimal.Decimal
	ShippingTotal   decimal.Decimal
	TaxTotal        decimal.Decimal
	DiscountTotal   decimal.Decimal
	GrandTotal      decimal.Decimal
	ShippingAddress Address
	BillingAddress  Address
	Items           []Item
	CouponCode      string
	TrackingNumber  string
	CancelReason    string
	shared.Versioned
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	// ShipmentStartedAt is set while a shipment holds the order; see BeginShipment.
	ShipmentStartedAt *time.Time
}

type ItemParams struct {
	SKU         string
	ProductName string
	VariantName string
	LocationID  string
	VariantID   string
	Quantity    uint
	UnitPrice   decimal.Decimal
}

type NewParams struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []ItemParams
	Subtotal        decimal.Decimal
	ShippingTotal   decimal.Decimal
	TaxTotal        decimal.Decimal
	DiscountTotal   decimal.Decimal
	ShippingAddress Address
	BillingAddress  Address
	CouponCode      string
}

// New validates p and builds a PENDING order. GrandTotal is computed here
// once and never recomputed.
func New(p NewParams) (*Order, CreatedEvent, error) {
	switch {
	case p.ID == "":
		return nil, CreatedEvent{}, ErrMissingField.Detailf("id")
	case p.OrderNumber == "":
		return nil, CreatedEvent{}, ErrMissingField.Detailf("order number")
	case p.UserID == "":
		return nil, CreatedEvent{}, ErrMissingField.Detailf("user id")
	case len(p.Items) == 0:
		return nil, CreatedEvent{}, ErrNoItems
	}
	for _, amt := range []decimal.Decimal{p.Subtotal, p.ShippingTotal, p.TaxTotal, p.DiscountTotal} {
		if amt.IsNegative() {
			return nil, CreatedEvent{}, ErrInvalidAmount
		}
	}

	items := make([]Item, 0, len(p.Items))
	sum := decimal.Zero
	for _, ip := range p.Items {
		if ip.SKU == "" {
			return nil, CreatedEvent{}, ErrMissingField.Detailf("item sku")
		}
		if ip.Quantity == 0 {
			return nil, CreatedEvent{}, ErrInvalidQuantity.Detailf("sku %s", ip.SKU)
		}
		if ip.UnitPrice.IsNegative() {
			return nil, CreatedEvent{}, ErrInvalidAmount.Detailf("sku %s unit price", ip.SKU)
		}
		unit := shared.RoundMoney(ip.UnitPrice)
		total := unit.Mul(decimal.NewFromInt(int64(ip.Quantity)))
		sum = sum.Add(total)
		items = append(items, Item{
			SKU:         ip.SKU,
			ProductName: ip.ProductName,
			VariantName: ip.VariantName,
			LocationID:  ip.LocationID,
			VariantID:   ip.VariantID,
			Quantity:    ip.Quantity,
			UnitPrice:   unit,
			TotalPrice:  total,
		})
	}

	subtotal := shared.RoundMoney(p.Subtotal)
	if !subtotal.Equal(sum) {
		return nil, CreatedEvent{}, ErrTotalsMismatch.Detailf("subtotal %s, items %s", subtotal.StringFixed(shared.MoneyScale), sum.StringFixed(shared.MoneyScale))
	}
	shipping := shared.RoundMoney(p.ShippingTotal)
	tax := shared.RoundMoney(p.TaxTotal)
	discount := shared.RoundMoney(p.DiscountTotal)
	gross := subtotal.Add(shipping).Add(tax)
	if discount.GreaterThan(gross) {
		return nil, CreatedEvent{}, ErrDiscountTooHigh
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              p.ID,
		OrderNumber:     p.OrderNumber,
		UserID:          p.UserID,
		Status:          StatusPending,
		Subtotal:        subtotal,
		ShippingTotal:   shipping,
		TaxTotal:        tax,
		DiscountTotal:   discount,
		GrandTotal:      gross.Sub(discount),
		ShippingAddress: p.ShippingAddress,
		BillingAddress:  p.BillingAddress,
		Items:           items,
		CouponCode:      p.CouponCode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Bump()
	return o, NewCreatedEvent(o), nil
}

func (o *Order) Confirm() (StatusChangedEvent, error) {
	return o.transition(StatusConfirmed, "", func(now time.Time) { o.ConfirmedAt = &now })
}

func (o *Order) StartProcessing() (StatusChangedEvent, error) {
	return o.transition(StatusProcessing, "", nil)
}

func (o *Order) Ship(trackingNumber string) (StatusChangedEvent, error) {
	return o.transition(StatusShipped, "", func(now time.Time) {
		o.TrackingNumber = trackingNumber
		o.ShippedAt = &now
		o.ShipmentStartedAt = nil
	})
}

// BeginShipment claims a PROCESSING order for the shipper. While the claim
// is held the order cannot be cancelled, so stock sold for it is not also
// released by a cancellation.
func (o *Order) BeginShipment() error {
	if o.Status != StatusProcessing {
		return shared.ErrInvalidStatusTransition.Detailf("order %s: cannot start shipment while %s", o.ID, o.Status)
	}
	if o.ShipmentInProgress() {
		return shared.ErrInvalidStatusTransition.Detailf("order %s: shipment already in progress", o.ID)
	}
	now := time.Now().UTC()
	o.ShipmentStartedAt = &now
	o.UpdatedAt = now
	o.Bump()
	return nil
}

// AbortShipment drops the claim taken by BeginShipment. No-op without one.
func (o *Order) AbortShipment() {
	if !o.ShipmentInProgress() {
		return
	}
	o.ShipmentStartedAt = nil
	o.UpdatedAt = time.Now().UTC()
	o.Bump()
}

func (o *Order) ShipmentInProgress() bool { return o.ShipmentStartedAt != nil }

func (o *Order) Deliver() (StatusChangedEvent, error) {
	return o.transition(StatusDelivered, "", func(now time.Time) { o.DeliveredAt = &now })
}

func (o *Order) MarkRefunded() (StatusChangedEvent, error) {
	return o.transition(StatusRefunded, "", nil)
}

// Cancel is allowed until the order ships. It does not release stock or
// refund payments; the caller does that explicitly.
func (o *Order) Cancel(reason string) (StatusChangedEvent, error) {
	if o.Status == StatusShipped || o.Status == StatusDelivered {
		return StatusChangedEvent{}, shared.ErrInvalidStatusTransition.Detailf("order %s: cannot cancel once %s", o.ID, o.Status)
	}
	if o.ShipmentInProgress() {
		return StatusChangedEvent{}, shared.ErrInvalidStatusTransition.Detailf("order %s: cannot cancel while shipment is in progress", o.ID)
	}
	return o.transition(StatusCancelled, reason, func(now time.Time) {
		o.CancelReason = reason
		o.CancelledAt = &now
	})
}

func (o *Order) transition(to Status, reason string, apply func(now time.Time)) (StatusChangedEvent, error) {
	from := o.Status
	if !CanTransition(from, to) {
		return StatusChangedEvent{}, shared.ErrInvalidStatusTransition.Detailf("order %s: %s -> %s", o.ID, from, to)
	}
	now := time.Now().UTC()
	o.Status = to
	if apply != nil {
		apply(now)
	}
	o.UpdatedAt = now
	o.Bump()
	return newStatusChangedEvent(o, from, reason), nil
}

// Clone returns a deep copy that shares no slices or pointers with o.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.ConfirmedAt = cloneTime(o.ConfirmedAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.ShipmentStartedAt = cloneTime(o.ShipmentStartedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
