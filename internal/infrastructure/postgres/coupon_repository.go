package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
)

type CouponRepository struct {
	db *pgxpool.Pool
}

func NewCouponRepository(db *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: db}
}

var _ domain.Repository = (*CouponRepository)(nil)

func (r *CouponRepository) Get(ctx context.Context, code string) (*domain.Coupon, bool, error) {
	code = domain.NormalizeCode(code)
	var (
		c              domain.Coupon
		maxDiscount    decimal.NullDecimal
		maxUsage       *int64
		usage, version int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT code, description, discount_type, discount_value, max_discount_amount, min_order_value,
		       max_usage_limit, usage_count, start_date, end_date, is_active, version, created_at, updated_at
		FROM coupons WHERE code = $1`, code,
	).Scan(&c.Code, &c.Description, &c.DiscountType, &c.DiscountValue, &maxDiscount, &c.MinOrderValue,
		&maxUsage, &usage, &c.StartDate, &c.EndDate, &c.IsActive, &version, &c.CreatedAt, &c.UpdatedAt)
	if notFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get coupon %s: %w", code, err)
	}
	if maxDiscount.Valid {
		v := maxDiscount.Decimal
		c.MaxDiscountAmount = &v
	}
	if maxUsage != nil {
		v := uint(*maxUsage)
		c.MaxUsageLimit = &v
	}
	c.UsageCount = uint(usage)
	c.Restore(uint64(version))
	return &c, true, nil
}

func (r *CouponRepository) Save(ctx context.Context, c *domain.Coupon) (uint64, error) {
	if c == nil {
		return 0, errNilAggregate
	}
	code := domain.NormalizeCode(c.Code)
	maxDiscount := decimal.NullDecimal{}
	if c.MaxDiscountAmount != nil {
		maxDiscount = decimal.NewNullDecimal(*c.MaxDiscountAmount)
	}
	var maxUsage *int64
	if c.MaxUsageLimit != nil {
		v := toInt(*c.MaxUsageLimit)
		maxUsage = &v
	}

	return cas(ctx, r.db, c, "coupon "+code,
		statement{`
			INSERT INTO coupons (code, description, discount_type, discount_value, max_discount_amount,
			                     min_order_value, max_usage_limit, usage_count, start_date, end_date,
			                     is_active, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			[]any{code, c.Description, string(c.DiscountType), c.DiscountValue, maxDiscount, c.MinOrderValue,
				maxUsage, toInt(c.UsageCount), utcPtr(c.StartDate), utcPtr(c.EndDate), c.IsActive,
				int64(c.Version), utc(c.CreatedAt), utc(c.UpdatedAt)},
		},
		// Terms are immutable once created; only usage and activation move.
		statement{`
			UPDATE coupons
			SET usage_count = $2, is_active = $3, version = $4, updated_at = $5
			WHERE code = $1 AND version = $6`,
			[]any{code, toInt(c.UsageCount), c.IsActive, int64(c.Version), utc(c.UpdatedAt), int64(c.LoadedVersion())},
		},
		statement{`SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, []any{code}},
	)
}
