package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// ErrRepository marks infrastructure failures of a repository call, as
// opposed to business-rule failures which keep their domain code.
var ErrRepository = errors.New("application: repository failure")

// WrapRepositoryError leaves domain errors intact and tags everything else
// with ErrRepository.
func WrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := shared.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}

// Invalid builds an INVALID_ARGUMENT error for malformed commands.
func Invalid(format string, args ...any) error {
	return shared.NewError(shared.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound builds a NOT_FOUND error naming the missing aggregate.
func NotFound(kind, id string) error {
	return shared.ErrNotFound.Detailf("%s %s", kind, id)
}
