package stock

import "context"

// Repository loads and stores entries. Save is a compare-and-swap on the
// version the entry was loaded with and fails with
// shared.ErrConcurrentModification when storage has moved on.
type Repository interface {
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Save(ctx context.Context, entry *Entry) (uint64, error)
}
