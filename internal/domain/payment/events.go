package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCreated          = "payment.created"
	EventProcessing       = "payment.processing"
	EventCompleted        = "payment.completed"
	EventFailed           = "payment.failed"
	EventCancelled        = "payment.cancelled"
	EventRefundRequested  = "payment.refund_requested"
	EventRefundProcessing = "refund.processing"
	EventRefundCompleted  = "refund.completed"
	EventRefundFailed     = "refund.failed"
)

type CreatedEvent struct {
	PaymentID  string
	OrderID    string
	Amount     decimal.Decimal
	Method     Method
	OccurredAt time.Time
}

func (CreatedEvent) EventName() string { return EventCreated }

type StatusChangedEvent struct {
	PaymentID    string
	OrderID      string
	From         Status
	To           Status
	Amount       decimal.Decimal
	ResponseCode string
	OccurredAt   time.Time
}

func (e StatusChangedEvent) EventName() string {
	return "payment." + strings.ToLower(string(e.To))
}

// RefundRequestedEvent is raised by the payment when a refund is initiated.
type RefundRequestedEvent struct {
	PaymentID  string
	OrderID    string
	RefundID   string
	Amount     decimal.Decimal
	Reason     string
	OccurredAt time.Time
}

func (RefundRequestedEvent) EventName() string { return EventRefundRequested }

type RefundStatusChangedEvent struct {
	RefundID   string
	PaymentID  string
	OrderID    string
	From       RefundStatus
	To         RefundStatus
	Amount     decimal.Decimal
	OccurredAt time.Time
}

func (e RefundStatusChangedEvent) EventName() string {
	return "refund." + strings.ToLower(string(e.To))
}
