package coupon

import "context"

// Repository is keyed by the normalized code.
type Repository interface {
	Get(ctx context.Context, code string) (*Coupon, bool, error)
	Save(ctx context.Context, coupon *Coupon) (uint64, error)
}
