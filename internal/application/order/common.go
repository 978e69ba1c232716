package order

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-commerce/internal/application"
	"github.com/Zhima-Mochi/minishop-commerce/internal/application/retry"
	domain "github.com/Zhima-Mochi/minishop-commerce/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-commerce/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

const (
	orderService   = "order-service"
	aggregateOrder = "order"
)

type transitionFn func(o *domain.Order) (domain.StatusChangedEvent, error)

// transitionOrder reloads the order on every attempt, so a conflicting
// writer's state is re-validated before the transition is applied again.
func transitionOrder(ctx context.Context, repo domain.Repository, r *retry.Retrier, id string, apply transitionFn) (*domain.Order, domoutbox.Event, error) {
	type result struct {
		order *domain.Order
		event domain.StatusChangedEvent
	}
	res, err := retry.OnConflict(ctx, r, aggregateOrder, func(ctx context.Context) (result, error) {
		o, err := loadOrder(ctx, repo, id)
		if err != nil {
			return result{}, err
		}
		ev, err := apply(o)
		if err != nil {
			return result{}, err
		}
		if _, err := repo.Save(ctx, o); err != nil {
			return result{}, application.WrapRepositoryError(err)
		}
		return result{order: o, event: ev}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.order, res.event, nil
}

// updateOrder is transitionOrder for mutations that raise no event.
func updateOrder(ctx context.Context, repo domain.Repository, r *retry.Retrier, id string, apply func(o *domain.Order) error) (*domain.Order, error) {
	return retry.OnConflict(ctx, r, aggregateOrder, func(ctx context.Context) (*domain.Order, error) {
		o, err := loadOrder(ctx, repo, id)
		if err != nil {
			return nil, err
		}
		if err := apply(o); err != nil {
			return nil, err
		}
		if _, err := repo.Save(ctx, o); err != nil {
			return nil, application.WrapRepositoryError(err)
		}
		return o, nil
	})
}

func loadOrder(ctx context.Context, repo domain.Repository, id string) (*domain.Order, error) {
	o, found, err := repo.Get(ctx, id)
	if err != nil {
		return nil, application.WrapRepositoryError(err)
	}
	if !found {
		return nil, application.NotFound("order", id)
	}
	return o, nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, shared.ErrInvalidStatusTransition):
		return "STATE_TRANSITION_FAILED"
	case errors.Is(err, shared.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, application.ErrRepository):
		return "ORDER_REPOSITORY_FAILED"
	}
	if code, ok := shared.CodeOf(err); ok {
		return string(code)
	}
	return "FAILED"
}
