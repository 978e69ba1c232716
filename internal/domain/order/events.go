package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCreated    = "order.created"
	EventConfirmed  = "order.confirmed"
	EventProcessing = "order.processing"
	EventShipped    = "order.shipped"
	EventDelivered  = "order.delivered"
	EventCancelled  = "order.cancelled"
	EventRefunded   = "order.refunded"
)

type LineItem struct {
	SKU        string
	LocationID string
	VariantID  string
	Quantity   uint
}

// CreatedEvent is emitted when a new order is placed.
type CreatedEvent struct {
	OrderID     string
	OrderNumber string
	UserID      string
	GrandTotal  decimal.Decimal
	CouponCode  string
	Items       []LineItem
	OccurredAt  time.Time
}

func (CreatedEvent) EventName() string { return EventCreated }

func NewCreatedEvent(o *Order) CreatedEvent {
	items := make([]LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, LineItem{SKU: it.SKU, LocationID: it.LocationID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return CreatedEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		GrandTotal:  o.GrandTotal,
		CouponCode:  o.CouponCode,
		Items:       items,
		OccurredAt:  o.CreatedAt,
	}
}

// StatusChangedEvent is emitted on every lifecycle transition. Its name is
// derived from the target status, e.g. "order.shipped".
type StatusChangedEvent struct {
	OrderID     string
	OrderNumber string
	From        Status
	To          Status
	Reason      string
	OccurredAt  time.Time
}

func (e StatusChangedEvent) EventName() string {
	return "order." + strings.ToLower(string(e.To))
}

func newStatusChangedEvent(o *Order, from Status, reason string) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		From:        from,
		To:          o.Status,
		Reason:      reason,
		OccurredAt:  o.UpdatedAt,
	}
}
