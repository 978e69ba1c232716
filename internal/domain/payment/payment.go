package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

var (
	ErrInvalidAmount        = shared.NewError(shared.CodeInvalidQuantity, "payment: amount must be greater than zero")
	ErrRefundExceedsPayment = shared.NewError(shared.CodeInvalidQuantity, "payment: refund amount exceeds payment amount")
	ErrInvalidMethod        = shared.NewError(shared.CodeInvalidArgument, "payment: unsupported payment method")
	ErrMissingField         = shared.NewError(shared.CodeInvalidArgument, "payment: required field missing")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
	StatusCancelled  Status = "CANCELLED"
)

var AllStatuses = []Status{
	StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled,
}

type Method string

const (
	MethodCreditCard     Method = "CREDIT_CARD"
	MethodBankTransfer   Method = "BANK_TRANSFER"
	MethodEWallet        Method = "E_WALLET"
	MethodCashOnDelivery Method = "CASH_ON_DELIVERY"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodBankTransfer, MethodEWallet, MethodCashOnDelivery:
		return true
	}
	return false
}

// Transaction records one gateway interaction. Appended, never edited.
type Transaction struct {
	ID                   string
	GatewayTransactionID string
	GatewayResponseCode  string
	RawResponse          string
	Status               Status
	Amount               decimal.Decimal
	PerformedAt          time.Time
}

type Payment struct {
	ID           string
	OrderID      string
	Amount       decimal.Decimal
	Method       Method
	Status       Status
	Transactions []Transaction
	shared.Versioned
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type NewParams struct {
	ID      string
	OrderID string
	Amount  decimal.Decimal
	Method  Method
}

func New(p NewParams) (*Payment, CreatedEvent, error) {
	if p.ID == "" {
		return nil, CreatedEvent{}, ErrMissingField.Detailf("id")
	}
	if p.OrderID == "" {
		return nil, CreatedEvent{}, ErrMissingField.Detailf("order id")
	}
	if !p.Method.Valid() {
		return nil, CreatedEvent{}, ErrInvalidMethod.Detailf("%q", p.Method)
	}
	amount := shared.RoundMoney(p.Amount)
	if !amount.IsPositive() {
		return nil, CreatedEvent{}, ErrInvalidAmount
	}
	now := time.Now().UTC()
	pay := &Payment{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Amount:    amount,
		Method:    p.Method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	pay.Bump()
	return pay, CreatedEvent{PaymentID: pay.ID, OrderID: pay.OrderID, Amount: amount, Method: pay.Method, OccurredAt: now}, nil
}

func (p *Payment) StartProcessing() (StatusChangedEvent, error) {
	if p.Status != StatusPending {
		return StatusChangedEvent{}, p.invalid(StatusProcessing)
	}
	from := p.Status
	p.Status = StatusProcessing
	p.touch()
	return p.changed(from, ""), nil
}

// Complete records a successful capture. A payment completes at most once.
func (p *Payment) Complete(gatewayTxID, responseCode string) (StatusChangedEvent, error) {
	if p.Status != StatusProcessing {
		return StatusChangedEvent{}, p.invalid(StatusCompleted)
	}
	if gatewayTxID == "" {
		return StatusChangedEvent{}, ErrMissingField.Detailf("gateway transaction id")
	}
	from := p.Status
	p.appendTransaction(gatewayTxID, responseCode, "", StatusCompleted)
	p.Status = StatusCompleted
	p.touch()
	completed := p.UpdatedAt
	p.CompletedAt = &completed
	return p.changed(from, responseCode), nil
}

func (p *Payment) Fail(responseCode, rawResponse string) (StatusChangedEvent, error) {
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return StatusChangedEvent{}, p.invalid(StatusFailed)
	}
	from := p.Status
	p.appendTransaction("", responseCode, rawResponse, StatusFailed)
	p.Status = StatusFailed
	p.touch()
	return p.changed(from, responseCode), nil
}

// Cancel voids a payment that never reached the gateway.
func (p *Payment) Cancel() (StatusChangedEvent, error) {
	if p.Status != StatusPending {
		return StatusChangedEvent{}, p.invalid(StatusCancelled)
	}
	from := p.Status
	p.Status = StatusCancelled
	p.touch()
	return p.changed(from, ""), nil
}

// InitiateRefund moves a completed payment to REFUNDED and returns the
// pending refund that tracks the money actually going back.
func (p *Payment) InitiateRefund(amount decimal.Decimal, reason string) (*Refund, RefundRequestedEvent, error) {
	if p.Status != StatusCompleted {
		return nil, RefundRequestedEvent{}, p.invalid(StatusRefunded)
	}
	amount = shared.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, RefundRequestedEvent{}, ErrInvalidAmount
	}
	if amount.GreaterThan(p.Amount) {
		return nil, RefundRequestedEvent{}, ErrRefundExceedsPayment.Detailf("refund %s, paid %s", amount.StringFixed(shared.MoneyScale), p.Amount.StringFixed(shared.MoneyScale))
	}
	latest, ok := p.LatestTransaction()
	if !ok {
		return nil, RefundRequestedEvent{}, ErrMissingField.Detailf("payment %s has no transaction to reverse", p.ID)
	}

	refund := newRefund(uuid.NewString(), p, latest.ID, amount, reason)
	p.Status = StatusRefunded
	p.touch()
	return refund, RefundRequestedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		RefundID:   refund.ID,
		Amount:     amount,
		Reason:     reason,
		OccurredAt: p.UpdatedAt,
	}, nil
}

func (p *Payment) LatestTransaction() (Transaction, bool) {
	if len(p.Transactions) == 0 {
		return Transaction{}, false
	}
	return p.Transactions[len(p.Transactions)-1], true
}

func (p *Payment) Transaction(id string) (Transaction, bool) {
	for _, tx := range p.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.Transactions = append([]Transaction(nil), p.Transactions...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (p *Payment) appendTransaction(gatewayTxID, code, raw string, status Status) {
	p.Transactions = append(p.Transactions, Transaction{
		ID:                   uuid.NewString(),
		GatewayTransactionID: gatewayTxID,
		GatewayResponseCode:  code,
		RawResponse:          raw,
		Status:               status,
		Amount:               p.Amount,
		PerformedAt:          time.Now().UTC(),
	})
}

func (p *Payment) invalid(to Status) error {
	return shared.ErrInvalidStatusTransition.Detailf("payment %s: %s -> %s", p.ID, p.Status, to)
}

func (p *Payment) changed(from Status, code string) StatusChangedEvent {
	return StatusChangedEvent{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		From:         from,
		To:           p.Status,
		Amount:       p.Amount,
		ResponseCode: code,
		OccurredAt:   p.UpdatedAt,
	}
}

func (p *Payment) touch() {
	p.Bump()
	p.UpdatedAt = time.Now().UTC()
}
