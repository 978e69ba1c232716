package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/stock"
)

type StockRepository struct {
	db *pgxpool.Pool
}

func NewStockRepository(db *pgxpool.Pool) *StockRepository {
	return &StockRepository{db: db}
}

var _ domain.Repository = (*StockRepository)(nil)

func (r *StockRepository) Get(ctx context.Context, key domain.Key) (*domain.Entry, bool, error) {
	var (
		e                        domain.Entry
		onHand, reserved, thresh int64
		version                  int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT location_id, variant_id, quantity_on_hand, quantity_reserved,
		       low_stock_threshold, version, created_at, updated_at
		FROM stock_entries WHERE location_id = $1 AND variant_id = $2`,
		key.LocationID, key.VariantID,
	).Scan(&e.LocationID, &e.VariantID, &onHand, &reserved, &thresh, &version, &e.CreatedAt, &e.UpdatedAt)
	if notFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get stock %s: %w", key, err)
	}
	e.QuantityOnHand = uint(onHand)
	e.QuantityReserved = uint(reserved)
	e.LowStockThreshold = uint(thresh)
	e.Restore(uint64(version))
	return &e, true, nil
}

func (r *StockRepository) Save(ctx context.Context, e *domain.Entry) (uint64, error) {
	if e == nil {
		return 0, errNilAggregate
	}
	return cas(ctx, r.db, e, "stock "+e.Key.String(),
		statement{`
			INSERT INTO stock_entries (location_id, variant_id, quantity_on_hand, quantity_reserved,
			                           low_stock_threshold, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			[]any{e.LocationID, e.VariantID, toInt(e.QuantityOnHand), toInt(e.QuantityReserved),
				toInt(e.LowStockThreshold), int64(e.Version), utc(e.CreatedAt), utc(e.UpdatedAt)},
		},
		statement{`
			UPDATE stock_entries
			SET quantity_on_hand = $3, quantity_reserved = $4, low_stock_threshold = $5,
			    version = $6, updated_at = $7
			WHERE location_id = $1 AND variant_id = $2 AND version = $8`,
			[]any{e.LocationID, e.VariantID, toInt(e.QuantityOnHand), toInt(e.QuantityReserved),
				toInt(e.LowStockThreshold), int64(e.Version), utc(e.UpdatedAt), int64(e.LoadedVersion())},
		},
		statement{`SELECT EXISTS (SELECT 1 FROM stock_entries WHERE location_id = $1 AND variant_id = $2)`,
			[]any{e.LocationID, e.VariantID}},
	)
}
