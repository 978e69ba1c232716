package order

import (
	"context"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

// StockLedger is the part of the inventory service order flows depend on.
type StockLedger interface {
	Release(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error)
	ConfirmSale(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error)
	ReverseSale(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error)
}
