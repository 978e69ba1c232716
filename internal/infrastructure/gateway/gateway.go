// Package gateway provides a simulated payment provider.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
)

const (
	CodeApproved = "00"
	CodeDeclined = "05"
)

var ErrInvalidAmount = errors.New("gateway: amount must be positive")

// Simulator approves a configurable share of requests at random.
type Simulator struct {
	mu          sync.Mutex
	random      *rand.Rand
	successRate float64
	latency     time.Duration
}

type Option func(*Simulator)

// WithSeed makes outcomes reproducible.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.random = rand.New(rand.NewSource(seed)) }
}

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

func NewSimulator(successRate float64, opts ...Option) *Simulator {
	s := &Simulator{
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.SetSuccessRate(successRate)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSuccessRate clamps rate to [0, 1].
func (s *Simulator) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case rate < 0:
		rate = 0
	case rate > 1:
		rate = 1
	}
	s.successRate = rate
}

func (s *Simulator) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRate
}

func (s *Simulator) Charge(ctx context.Context, paymentID string, method payment.Method, amount decimal.Decimal) (payment.ChargeResult, error) {
	if err := s.wait(ctx); err != nil {
		return payment.ChargeResult{}, err
	}
	if !amount.IsPositive() {
		return payment.ChargeResult{}, ErrInvalidAmount
	}
	if !s.approve() {
		return payment.ChargeResult{
			ResponseCode: CodeDeclined,
			RawResponse:  `{"payment_id":"` + paymentID + `","result":"declined"}`,
		}, nil
	}
	return payment.ChargeResult{
		Approved:             true,
		GatewayTransactionID: "gw_tx_" + uuid.NewString(),
		ResponseCode:         CodeApproved,
	}, nil
}

func (s *Simulator) Refund(ctx context.Context, refundID, gatewayTransactionID string, amount decimal.Decimal) (payment.RefundResult, error) {
	if err := s.wait(ctx); err != nil {
		return payment.RefundResult{}, err
	}
	if !amount.IsPositive() {
		return payment.RefundResult{}, ErrInvalidAmount
	}
	if !s.approve() {
		return payment.RefundResult{Reason: "refund declined for " + gatewayTransactionID}, nil
	}
	return payment.RefundResult{Approved: true, GatewayRefundID: "gw_rf_" + uuid.NewString()}, nil
}

func (s *Simulator) approve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Float64 is in [0, 1), so a rate of 0 never approves and 1 always does.
	return s.random.Float64() < s.successRate
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
