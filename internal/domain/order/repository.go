package order

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*Order, bool, error)
	// Save inserts a new order or performs a compare-and-swap update.
	Save(ctx context.Context, order *Order) (uint64, error)
}

// NumberGenerator produces human-readable order numbers.
type NumberGenerator interface {
	NewOrderNumber() string
}
