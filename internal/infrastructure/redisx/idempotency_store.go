package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "idem:checkout:"
	pendingMarker = "\x00pending"
)

// abandonScript deletes the key only while it still holds the pending
// marker, so a finished result is never dropped.
var abandonScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdempotencyStore keeps checkout results under idem:checkout:<key>.
type IdempotencyStore struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, pendingTTL: min(TTLPending, ttl)}
}

func redisKey(key string) string { return keyPrefix + key }

func (s *IdempotencyStore) Claim(ctx context.Context, key string) ([]byte, bool, error) {
	k := redisKey(key)
	// A second pass covers the key expiring between SETNX and GET.
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.pendingTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("redisx: claim %s: %w", key, err)
		}
		if ok {
			return nil, true, nil
		}

		val, err := s.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("redisx: read %s: %w", key, err)
		}
		if string(val) == pendingMarker {
			return nil, false, nil
		}
		return val, false, nil
	}
	return nil, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, result []byte) error {
	if err := s.rdb.Set(ctx, redisKey(key), result, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisx: complete %s: %w", key, err)
	}
	return nil
}

func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	if err := abandonScript.Run(ctx, s.rdb, []string{redisKey(key)}, pendingMarker).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisx: abandon %s: %w", key, err)
	}
	return nil
}
