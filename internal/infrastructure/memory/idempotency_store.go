package memory

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore is an in-process stand-in for the redis store.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]idemRecord
}

type idemRecord struct {
	result  []byte
	done    bool
	expires time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{ttl: ttl, now: time.Now, records: make(map[string]idemRecord)}
}

func (s *IdempotencyStore) Claim(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && s.now().Before(rec.expires) {
		if rec.done {
			return append([]byte(nil), rec.result...), false, nil
		}
		return nil, false, nil
	}
	s.records[key] = idemRecord{expires: s.now().Add(s.ttl)}
	return nil, true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, result []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = idemRecord{
		result:  append([]byte(nil), result...),
		done:    true,
		expires: s.now().Add(s.ttl),
	}
	return nil
}

func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && !rec.done {
		delete(s.records, key)
	}
	return nil
}
