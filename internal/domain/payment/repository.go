package payment

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*Payment, bool, error)
	// FindByOrder returns the most recent payment created for the order.
	FindByOrder(ctx context.Context, orderID string) (*Payment, bool, error)
	Save(ctx context.Context, payment *Payment) (uint64, error)
}

type RefundRepository interface {
	Get(ctx context.Context, id string) (*Refund, bool, error)
	Save(ctx context.Context, refund *Refund) (uint64, error)
}
