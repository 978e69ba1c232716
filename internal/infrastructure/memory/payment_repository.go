package memory

import (
	"context"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
)

// PaymentRepository keeps an order id index next to the payments so
// FindByOrder does not scan.
type PaymentRepository struct {
	payments *store[string, *domain.Payment]
	byOrder  map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: newStore[string](func(p *domain.Payment) *domain.Payment { return p.Clone() }),
		byOrder:  make(map[string]string),
	}
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p, ok := r.payments.get(id)
	return p, ok, nil
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (*domain.Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.payments.mu.RLock()
	id, ok := r.byOrder[orderID]
	r.payments.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	p, ok := r.payments.get(id)
	return p, ok, nil
}

func (r *PaymentRepository) Save(ctx context.Context, payment *domain.Payment) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if payment == nil {
		return r.payments.save("", nil)
	}

	r.payments.mu.Lock()
	defer r.payments.mu.Unlock()

	v, err := r.payments.saveLocked(payment.ID, payment)
	if err != nil {
		return 0, err
	}
	r.byOrder[payment.OrderID] = payment.ID
	return v, nil
}

type RefundRepository struct {
	refunds *store[string, *domain.Refund]
}

func NewRefundRepository() *RefundRepository {
	return &RefundRepository{
		refunds: newStore[string](func(r *domain.Refund) *domain.Refund { return r.Clone() }),
	}
}

func (r *RefundRepository) Get(ctx context.Context, id string) (*domain.Refund, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	rf, ok := r.refunds.get(id)
	return rf, ok, nil
}

func (r *RefundRepository) Save(ctx context.Context, refund *domain.Refund) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if refund == nil {
		return r.refunds.save("", nil)
	}
	return r.refunds.save(refund.ID, refund)
}
