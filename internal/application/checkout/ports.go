package checkout

import (
	"context"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

type IDGenerator interface {
	NewID() string
}

// StockReserver is the part of the inventory service checkout depends on.
type StockReserver interface {
	Reserve(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error)
	Release(ctx context.Context, key stock.Key, qty uint) (*stock.Entry, error)
}

// IdempotencyStore remembers the result of a checkout per client key.
//
// Claim either reserves key for the caller (claimed == true), returns the
// stored result of a finished checkout (claimed == false, result != nil),
// or reports a checkout still in flight (claimed == false, result == nil).
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (result []byte, claimed bool, err error)
	Complete(ctx context.Context, key string, result []byte) error
	Abandon(ctx context.Context, key string) error
}
