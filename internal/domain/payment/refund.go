package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundFailed     RefundStatus = "FAILED"
)

var AllRefundStatuses = []RefundStatus{RefundPending, RefundProcessing, RefundCompleted, RefundFailed}

// Refund is its own aggregate. PaymentTransactionID is a weak reference to
// the transaction being reversed.
type Refund struct {
	ID                   string
	PaymentID            string
	OrderID              string
	PaymentTransactionID string
	RefundAmount         decimal.Decimal
	Reason               string
	Status               RefundStatus
	GatewayRefundID      string
	FailureReason        string
	shared.Versioned
	CreatedAt time.Time
	UpdatedAt time.Time
}

func newRefund(id string, p *Payment, txID string, amount decimal.Decimal, reason string) *Refund {
	now := time.Now().UTC()
	r := &Refund{
		ID:                   id,
		PaymentID:            p.ID,
		OrderID:              p.OrderID,
		PaymentTransactionID: txID,
		RefundAmount:         amount,
		Reason:               reason,
		Status:               RefundPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.Bump()
	return r
}

func (r *Refund) StartProcessing() (RefundStatusChangedEvent, error) {
	if r.Status != RefundPending {
		return RefundStatusChangedEvent{}, r.invalid(RefundProcessing)
	}
	return r.move(RefundProcessing), nil
}

func (r *Refund) Complete(gatewayRefundID string) (RefundStatusChangedEvent, error) {
	if r.Status != RefundProcessing {
		return RefundStatusChangedEvent{}, r.invalid(RefundCompleted)
	}
	if gatewayRefundID == "" {
		return RefundStatusChangedEvent{}, ErrMissingField.Detailf("gateway refund id")
	}
	r.GatewayRefundID = gatewayRefundID
	return r.move(RefundCompleted), nil
}

func (r *Refund) Fail(reason string) (RefundStatusChangedEvent, error) {
	if r.Status != RefundProcessing {
		return RefundStatusChangedEvent{}, r.invalid(RefundFailed)
	}
	r.FailureReason = reason
	return r.move(RefundFailed), nil
}

func (r *Refund) Clone() *Refund {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *Refund) move(to RefundStatus) RefundStatusChangedEvent {
	from := r.Status
	r.Status = to
	r.Bump()
	r.UpdatedAt = time.Now().UTC()
	return RefundStatusChangedEvent{
		RefundID:   r.ID,
		PaymentID:  r.PaymentID,
		OrderID:    r.OrderID,
		From:       from,
		To:         to,
		Amount:     r.RefundAmount,
		OccurredAt: r.UpdatedAt,
	}
}

func (r *Refund) invalid(to RefundStatus) error {
	return shared.ErrInvalidStatusTransition.Detailf("refund %s: %s -> %s", r.ID, r.Status, to)
}
