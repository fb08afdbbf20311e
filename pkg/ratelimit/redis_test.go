package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRedisLimiterCapacity(t *testing.T) {
	l, now := newTestRedisLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "sms.send", Capacity: 5, RefillTokens: 5, RefillPeriod: time.Second}

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "rate_limit:sms.send", rule)
		require.NoError(t, err)
		assert.True(t, ok, "第%d次应放行", i+1)
	}

	ok, err := l.Allow(ctx, "rate_limit:sms.send", rule)
	require.NoError(t, err)
	assert.False(t, ok, "第6次应拒绝")

	*now = now.Add(time.Second)
	ok, err = l.Allow(ctx, "rate_limit:sms.send", rule)
	require.NoError(t, err)
	assert.True(t, ok, "补充周期后应恢复")
}

func TestRedisLimiterPartialRefill(t *testing.T) {
	l, now := newTestRedisLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "k", Capacity: 4, RefillTokens: 1, RefillPeriod: time.Second}

	for i := 0; i < 4; i++ {
		ok, err := l.Allow(ctx, "rate_limit:k", rule)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// 3个周期只补3个令牌
	*now = now.Add(3 * time.Second)
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "rate_limit:k", rule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "rate_limit:k", rule)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiterSharedAccounting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Now()
	// 两个限流器实例共享同一存储，额度不随实例数放大
	l1 := NewRedisLimiter(client)
	l1.now = func() time.Time { return now }
	l2 := NewRedisLimiter(client)
	l2.now = func() time.Time { return now }

	rule := Rule{Key: "k", Capacity: 2, RefillTokens: 2, RefillPeriod: time.Minute}
	ctx := context.Background()

	ok, err := l1.Allow(ctx, "rate_limit:k", rule)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l2.Allow(ctx, "rate_limit:k", rule)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l1.Allow(ctx, "rate_limit:k", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l2.Allow(ctx, "rate_limit:k", rule)
	require.NoError(t, err)
	assert.False(t, ok)
}
