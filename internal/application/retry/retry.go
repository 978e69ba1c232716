// Package retry re-runs load-mutate-save cycles that lost an optimistic
// concurrency race. Business-rule failures are returned immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 250 * time.Millisecond}
}

type Retrier struct {
	policy    Policy
	conflicts observability.Counter // optimistic_conflicts_total{aggregate}
	log       observability.Logger
}

func New(p Policy, tel observability.Observability) *Retrier {
	if tel == nil {
		tel = observability.Nop()
	}
	def := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(def.MaxInterval, p.InitialInterval)
	}
	return &Retrier{
		policy:    p,
		conflicts: tel.Metrics().Counter(observability.MOptimisticConflicts),
		log:       tel.Logger().With(observability.F("component", "retry")),
	}
}

func (r *Retrier) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	return b
}

// OnConflict runs op until it succeeds, fails with anything other than
// ErrConcurrentModification, or the attempt budget is spent. op must reload
// the aggregate on every call.
func OnConflict[T any](ctx context.Context, r *Retrier, aggregate string, op func(ctx context.Context) (T, error)) (T, error) {
	if r == nil {
		r = New(DefaultPolicy(), nil)
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, shared.ErrConcurrentModification) {
			return v, backoff.Permanent(err)
		}
		r.conflicts.Add(1, observability.L("aggregate", aggregate))
		logctx.FromOr(ctx, r.log).Debug("optimistic_conflict",
			observability.F("aggregate", aggregate),
			observability.F("attempt", attempt),
		)
		return v, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.policy.MaxAttempts),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, err
}
