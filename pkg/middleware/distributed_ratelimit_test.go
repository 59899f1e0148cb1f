package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, LoginRateLimitConfig(2, 1), "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:203.0.113.5")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := rl.Allow(ctx, "ip:203.0.113.5")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := rl.Remaining(ctx, "ip:203.0.113.5")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	assert.Equal(t, time.Minute, mr.TTL("gatehouse:ratelimit:ip:203.0.113.5"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = rl.Allow(ctx, "ip:203.0.113.5")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
	assert.Equal(t, time.Minute, mr.TTL("gatehouse:ratelimit:ip:203.0.113.5"), "new window has an expiry")
}

func TestDistributedRateLimiter_WindowKeepsExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, LoginRateLimitConfig(1, 0), "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := rl.Allow(ctx, "ip:198.51.100.9")
		require.NoError(t, err)
		mr.FastForward(10 * time.Second)
	}

	// Counting inside the window never extends or drops the expiry
	assert.Equal(t, 10*time.Second, mr.TTL("gatehouse:ratelimit:ip:198.51.100.9"))
	count, err := mr.Get("gatehouse:ratelimit:ip:198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, "5", count)
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	_, client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, LoginRateLimitConfig(1, 0), "test")
	ctx := context.Background()

	_, _ = rl.Allow(ctx, "k")
	ok, _ := rl.Allow(ctx, "k")
	require.False(t, ok)

	require.NoError(t, rl.Reset(ctx, "k"))
	remaining, err := rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, nil, "")
	mr.Close()

	ok, err := rl.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok, "fails open")
	assert.Equal(t, time.Minute, rl.RetryAfter())
}
