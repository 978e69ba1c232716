package payment

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

const (
	paymentService = "payment-service"

	// ResponseGatewayError is recorded on a payment whose gateway call
	// itself failed, as opposed to a decline.
	ResponseGatewayError = "GATEWAY_ERROR"
)

func loadPayment(ctx context.Context, repo domain.Repository, id string) (*domain.Payment, error) {
	p, found, err := repo.Get(ctx, id)
	if err != nil {
		return nil, application.WrapRepositoryError(err)
	}
	if !found {
		return nil, application.NotFound("payment", id)
	}
	return p, nil
}

func loadRefund(ctx context.Context, repo domain.RefundRepository, id string) (*domain.Refund, error) {
	r, found, err := repo.Get(ctx, id)
	if err != nil {
		return nil, application.WrapRepositoryError(err)
	}
	if !found {
		return nil, application.NotFound("refund", id)
	}
	return r, nil
}

// mutatePayment applies fn to a freshly loaded payment and saves it,
// reloading on version conflicts.
func mutatePayment(ctx context.Context, repo domain.Repository, r *retry.Retrier, id string, fn func(*domain.Payment) (domain.StatusChangedEvent, error)) (*domain.Payment, domain.StatusChangedEvent, error) {
	type result struct {
		p  *domain.Payment
		ev domain.StatusChangedEvent
	}
	res, err := retry.OnConflict(ctx, r, "payment", func(ctx context.Context) (result, error) {
		p, err := loadPayment(ctx, repo, id)
		if err != nil {
			return result{}, err
		}
		ev, err := fn(p)
		if err != nil {
			return result{}, err
		}
		if _, err := repo.Save(ctx, p); err != nil {
			return result{}, application.WrapRepositoryError(err)
		}
		return result{p: p, ev: ev}, nil
	})
	return res.p, res.ev, err
}

func mutateRefund(ctx context.Context, repo domain.RefundRepository, r *retry.Retrier, id string, fn func(*domain.Refund) (domain.RefundStatusChangedEvent, error)) (*domain.Refund, domain.RefundStatusChangedEvent, error) {
	type result struct {
		r  *domain.Refund
		ev domain.RefundStatusChangedEvent
	}
	res, err := retry.OnConflict(ctx, r, "refund", func(ctx context.Context) (result, error) {
		ref, err := loadRefund(ctx, repo, id)
		if err != nil {
			return result{}, err
		}
		ev, err := fn(ref)
		if err != nil {
			return result{}, err
		}
		if _, err := repo.Save(ctx, ref); err != nil {
			return result{}, application.WrapRepositoryError(err)
		}
		return result{r: ref, ev: ev}, nil
	})
	return res.r, res.ev, err
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, shared.ErrInvalidStatusTransition):
		return "STATE_TRANSITION_FAILED"
	case errors.Is(err, shared.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, application.ErrRepository):
		return "REPOSITORY_FAILED"
	}
	if code, ok := shared.CodeOf(err); ok {
		return string(code)
	}
	return "FAILED"
}
