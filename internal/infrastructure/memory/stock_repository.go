package memory

import (
	"context"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

type StockRepository struct {
	entries *store[domain.Key, *domain.Entry]
}

func NewStockRepository() *StockRepository {
	return &StockRepository{
		entries: newStore[domain.Key](func(e *domain.Entry) *domain.Entry { return e.Clone() }),
	}
}

func (r *StockRepository) Get(ctx context.Context, key domain.Key) (*domain.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e, ok := r.entries.get(key)
	return e, ok, nil
}

func (r *StockRepository) Save(ctx context.Context, entry *domain.Entry) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if entry == nil {
		return r.entries.save(domain.Key{}, nil)
	}
	return r.entries.save(entry.Key, entry)
}
