package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
)

type OrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

var _ domain.Repository = (*OrderRepository)(nil)

type itemRow struct {
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	LocationID  string          `json:"location_id"`
	VariantID   string          `json:"variant_id"`
	Quantity    uint            `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type addressRow struct {
	Recipient  string `json:"recipient,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

func encodeItems(items []domain.Item) ([]byte, error) {
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = itemRow(it)
	}
	return json.Marshal(rows)
}

func decodeItems(b []byte) ([]domain.Item, error) {
	var rows []itemRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.Item, len(rows))
	for i, r := range rows {
		items[i] = domain.Item(r)
	}
	return items, nil
}

func encodeAddress(a domain.Address) ([]byte, error) { return json.Marshal(addressRow(a)) }

func decodeAddress(b []byte) (domain.Address, error) {
	var r addressRow
	err := json.Unmarshal(b, &r)
	return domain.Address(r), err
}

const orderColumns = `id, order_number, user_id, status, subtotal, shipping_total, tax_total,
	discount_total, grand_total, shipping_address, billing_address, items, coupon_code,
	tracking_number, cancel_reason, version, created_at, updated_at, confirmed_at,
	shipped_at, delivered_at, cancelled_at, shipment_started_at`

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, bool, error) {
	var (
		o                        domain.Order
		shipping, billing, items []byte
		version                  int64
	)
	err := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.Subtotal, &o.ShippingTotal, &o.TaxTotal,
		&o.DiscountTotal, &o.GrandTotal, &shipping, &billing, &items, &o.CouponCode,
		&o.TrackingNumber, &o.CancelReason, &version, &o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt,
		&o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.ShipmentStartedAt,
	)
	if notFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	if o.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return nil, false, fmt.Errorf("postgres: decode order %s shipping address: %w", id, err)
	}
	if o.BillingAddress, err = decodeAddress(billing); err != nil {
		return nil, false, fmt.Errorf("postgres: decode order %s billing address: %w", id, err)
	}
	if o.Items, err = decodeItems(items); err != nil {
		return nil, false, fmt.Errorf("postgres: decode order %s items: %w", id, err)
	}
	o.Restore(uint64(version))
	return &o, true, nil
}

// Save writes the mutable columns only on update; items and totals are
// frozen at creation.
func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) (uint64, error) {
	if o == nil {
		return 0, errNilAggregate
	}
	items, err := encodeItems(o.Items)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode order items: %w", err)
	}
	shipping, err := encodeAddress(o.ShippingAddress)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode shipping address: %w", err)
	}
	billing, err := encodeAddress(o.BillingAddress)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode billing address: %w", err)
	}

	return cas(ctx, r.db, o, "order "+o.ID,
		statement{`INSERT INTO orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
			[]any{o.ID, o.OrderNumber, o.UserID, string(o.Status), o.Subtotal, o.ShippingTotal, o.TaxTotal,
				o.DiscountTotal, o.GrandTotal, shipping, billing, items, o.CouponCode,
				o.TrackingNumber, o.CancelReason, int64(o.Version), utc(o.CreatedAt), utc(o.UpdatedAt),
				utcPtr(o.ConfirmedAt), utcPtr(o.ShippedAt), utcPtr(o.DeliveredAt), utcPtr(o.CancelledAt),
				utcPtr(o.ShipmentStartedAt)},
		},
		statement{`
			UPDATE orders
			SET status = $2, tracking_number = $3, cancel_reason = $4, version = $5, updated_at = $6,
			    confirmed_at = $7, shipped_at = $8, delivered_at = $9, cancelled_at = $10,
			    shipment_started_at = $11
			WHERE id = $1 AND version = $12`,
			[]any{o.ID, string(o.Status), o.TrackingNumber, o.CancelReason, int64(o.Version), utc(o.UpdatedAt),
				utcPtr(o.ConfirmedAt), utcPtr(o.ShippedAt), utcPtr(o.DeliveredAt), utcPtr(o.CancelledAt),
				utcPtr(o.ShipmentStartedAt), int64(o.LoadedVersion())},
		},
		statement{`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, []any{o.ID}},
	)
}
