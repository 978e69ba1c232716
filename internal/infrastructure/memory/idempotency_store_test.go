package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore(time.Hour)

	res, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, res)

	res, claimed, err = s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Nil(t, res, "in flight")

	require.NoError(t, s.Complete(ctx, "k1", []byte(`{"order_id":"o-1"}`)))
	require.NoError(t, s.Abandon(ctx, "k1"), "completed keys survive abandon")

	res, claimed, err = s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(res))
}

func TestIdempotencyStore_AbandonAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Minute)
	s.now = func() time.Time { return now }

	_, claimed, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.Abandon(ctx, "k"))

	_, claimed, err = s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, claimed, "abandoned key can be claimed again")

	now = now.Add(2 * time.Minute)
	_, claimed, err = s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, claimed, "stale claim expired")
}
