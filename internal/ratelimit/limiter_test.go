package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(client, 2, 1, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed, "first request within capacity")

	allowed, _, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed, "second request within capacity")

	allowed, _, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed, "third request exceeds capacity")

	// Buckets are per caller; a different key starts full.
	allowed, _, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script receives time from Go's time.Now(), not Redis's clock.
}
