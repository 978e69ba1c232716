package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application/checkout"
	"github.com/Zhima-Mochi/minishop-commerce/internal/config"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/redisx"
	httppresentation "github.com/Zhima-Mochi/minishop-commerce/internal/presentation/http"
)

type storage struct {
	stock       stock.Repository
	orders      order.Repository
	payments    payment.Repository
	refunds     payment.RefundRepository
	coupons     coupon.Repository
	idempotency checkout.IdempotencyStore

	ready   map[string]httppresentation.Check
	closers []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	s := &storage{ready: map[string]httppresentation.Check{}}

	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
		s.usePostgres(pool)
	default:
		s.stock = memory.NewStockRepository()
		s.orders = memory.NewOrderRepository()
		s.payments = memory.NewPaymentRepository()
		s.refunds = memory.NewRefundRepository()
		s.coupons = memory.NewCouponRepository()
	}

	if cfg.RedisAddr == "" {
		s.idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
		return s, nil
	}
	rdb := redisx.New(cfg.RedisAddr)
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	if err := redisx.Ping(ctx, rdb); err != nil {
		s.close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	s.idempotency = redisx.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
	s.ready["redis"] = func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }
	return s, nil
}

func (s *storage) usePostgres(pool *pgxpool.Pool) {
	s.stock = postgres.NewStockRepository(pool)
	s.orders = postgres.NewOrderRepository(pool)
	s.payments = postgres.NewPaymentRepository(pool)
	s.refunds = postgres.NewRefundRepository(pool)
	s.coupons = postgres.NewCouponRepository(pool)
	s.ready["postgres"] = pool.Ping
}
