package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

var _ domain.Repository = (*PaymentRepository)(nil)

type transactionRow struct {
	ID                   string          `json:"id"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	GatewayResponseCode  string          `json:"gateway_response_code,omitempty"`
	RawResponse          string          `json:"raw_response,omitempty"`
	Status               domain.Status   `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	PerformedAt          time.Time       `json:"performed_at"`
}

const paymentColumns = `id, order_id, amount, method, status, transactions, version, created_at, updated_at, completed_at`

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, bool, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (*domain.Payment, bool, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (r *PaymentRepository) scanOne(ctx context.Context, query string, arg string) (*domain.Payment, bool, error) {
	var (
		p       domain.Payment
		txs     []byte
		version int64
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &txs, &version,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if notFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get payment %s: %w", arg, err)
	}
	var rows []transactionRow
	if err := json.Unmarshal(txs, &rows); err != nil {
		return nil, false, fmt.Errorf("postgres: decode payment %s transactions: %w", p.ID, err)
	}
	for _, row := range rows {
		p.Transactions = append(p.Transactions, domain.Transaction(row))
	}
	p.Restore(uint64(version))
	return &p, true, nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *domain.Payment) (uint64, error) {
	if p == nil {
		return 0, errNilAggregate
	}
	rows := make([]transactionRow, len(p.Transactions))
	for i, tx := range p.Transactions {
		rows[i] = transactionRow(tx)
	}
	txs, err := json.Marshal(rows)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode payment transactions: %w", err)
	}

	return cas(ctx, r.db, p, "payment "+p.ID,
		statement{`INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			[]any{p.ID, p.OrderID, p.Amount, string(p.Method), string(p.Status), txs, int64(p.Version),
				utc(p.CreatedAt), utc(p.UpdatedAt), utcPtr(p.CompletedAt)},
		},
		statement{`
			UPDATE payments
			SET status = $2, transactions = $3, version = $4, updated_at = $5, completed_at = $6
			WHERE id = $1 AND version = $7`,
			[]any{p.ID, string(p.Status), txs, int64(p.Version), utc(p.UpdatedAt), utcPtr(p.CompletedAt),
				int64(p.LoadedVersion())},
		},
		statement{`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, []any{p.ID}},
	)
}

type RefundRepository struct {
	db *pgxpool.Pool
}

func NewRefundRepository(db *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{db: db}
}

var _ domain.RefundRepository = (*RefundRepository)(nil)

func (r *RefundRepository) Get(ctx context.Context, id string) (*domain.Refund, bool, error) {
	var (
		ref     domain.Refund
		version int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, payment_id, order_id, payment_transaction_id, refund_amount, reason, status,
		       gateway_refund_id, failure_reason, version, created_at, updated_at
		FROM refunds WHERE id = $1`, id,
	).Scan(&ref.ID, &ref.PaymentID, &ref.OrderID, &ref.PaymentTransactionID, &ref.RefundAmount, &ref.Reason,
		&ref.Status, &ref.GatewayRefundID, &ref.FailureReason, &version, &ref.CreatedAt, &ref.UpdatedAt)
	if notFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get refund %s: %w", id, err)
	}
	ref.Restore(uint64(version))
	return &ref, true, nil
}

func (r *RefundRepository) Save(ctx context.Context, ref *domain.Refund) (uint64, error) {
	if ref == nil {
		return 0, errNilAggregate
	}
	return cas(ctx, r.db, ref, "refund "+ref.ID,
		statement{`
			INSERT INTO refunds (id, payment_id, order_id, payment_transaction_id, refund_amount, reason,
			                     status, gateway_refund_id, failure_reason, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			[]any{ref.ID, ref.PaymentID, ref.OrderID, ref.PaymentTransactionID, ref.RefundAmount, ref.Reason,
				string(ref.Status), ref.GatewayRefundID, ref.FailureReason, int64(ref.Version),
				utc(ref.CreatedAt), utc(ref.UpdatedAt)},
		},
		statement{`
			UPDATE refunds
			SET status = $2, gateway_refund_id = $3, failure_reason = $4, version = $5, updated_at = $6
			WHERE id = $1 AND version = $7`,
			[]any{ref.ID, string(ref.Status), ref.GatewayRefundID, ref.FailureReason, int64(ref.Version),
				utc(ref.UpdatedAt), int64(ref.LoadedVersion())},
		},
		statement{`SELECT EXISTS (SELECT 1 FROM refunds WHERE id = $1)`, []any{ref.ID}},
	)
}
