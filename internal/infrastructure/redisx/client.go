// Package redisx holds the redis-backed adapters.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TTLIdempotency = 24 * time.Hour
	// TTLPending bounds how long a crashed checkout blocks its key.
	TTLPending = 5 * time.Minute
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping reports whether the server answers.
func Ping(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
