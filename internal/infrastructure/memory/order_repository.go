package memory

import (
	"context"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
)

type OrderRepository struct {
	orders *store[string, *domain.Order]
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: newStore[string](func(o *domain.Order) *domain.Order { return o.Clone() }),
	}
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	o, ok := r.orders.get(id)
	return o, ok, nil
}

func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if order == nil {
		return r.orders.save("", nil)
	}
	return r.orders.save(order.ID, order)
}
