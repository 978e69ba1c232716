package memory

import (
	"context"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
)

// CouponRepository keys coupons by their normalized code.
type CouponRepository struct {
	coupons *store[string, *domain.Coupon]
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		coupons: newStore[string](func(c *domain.Coupon) *domain.Coupon { return c.Clone() }),
	}
}

func (r *CouponRepository) Get(ctx context.Context, code string) (*domain.Coupon, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c, ok := r.coupons.get(domain.NormalizeCode(code))
	return c, ok, nil
}

func (r *CouponRepository) Save(ctx context.Context, c *domain.Coupon) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c == nil {
		return r.coupons.save("", nil)
	}
	return r.coupons.save(domain.NormalizeCode(c.Code), c)
}
