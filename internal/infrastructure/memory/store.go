package memory

import (
	"sync"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

type versioned interface {
	comparable
	CurrentVersion() uint64
	LoadedVersion() uint64
	IsNew() bool
	MarkPersisted()
}

// store is a mutex-guarded map with compare-and-swap writes. Values are
// cloned on the way in and out so callers never share an aggregate.
type store[K comparable, A versioned] struct {
	mu    sync.RWMutex
	items map[K]A
	clone func(A) A
}

func newStore[K comparable, A versioned](clone func(A) A) *store[K, A] {
	return &store[K, A]{items: make(map[K]A), clone: clone}
}

func (s *store[K, A]) get(key K) (A, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.items[key]
	if !ok {
		var zero A
		return zero, false
	}
	return s.clone(a), true
}

func (s *store[K, A]) save(key K, a A) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(key, a)
}

func (s *store[K, A]) saveLocked(key K, a A) (uint64, error) {
	var zero A
	if a == zero {
		return 0, shared.NewError(shared.CodeInvalidArgument, "memory: aggregate is required")
	}

	current, exists := s.items[key]
	switch {
	case a.IsNew() && exists:
		return 0, shared.ErrConcurrentModification.Detailf("%v already exists", key)
	case !a.IsNew() && !exists:
		return 0, shared.ErrNotFound.Detailf("%v", key)
	case !a.IsNew() && current.CurrentVersion() != a.LoadedVersion():
		return 0, shared.ErrConcurrentModification.Detailf("%v: expected version %d, stored %d",
			key, a.LoadedVersion(), current.CurrentVersion())
	}

	a.MarkPersisted()
	s.items[key] = s.clone(a)
	return a.CurrentVersion(), nil
}
