package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeResult is the gateway's answer to a capture request.
type ChargeResult struct {
	Approved             bool
	GatewayTransactionID string
	ResponseCode         string
	RawResponse          string
}

type RefundResult struct {
	Approved        bool
	GatewayRefundID string
	Reason          string
}

// Gateway is the outbound port to the payment provider.
type Gateway interface {
	Charge(ctx context.Context, paymentID string, method Method, amount decimal.Decimal) (ChargeResult, error)
	Refund(ctx context.Context, refundID, gatewayTransactionID string, amount decimal.Decimal) (RefundResult, error)
}
