package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterCapacity(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	rule := Rule{Key: "auth.login", Capacity: 5, RefillTokens: 5, RefillPeriod: time.Second}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "rate_limit:auth.login", rule)
		require.NoError(t, err)
		assert.True(t, ok, "第%d次应放行", i+1)
	}

	ok, err := l.Allow(ctx, "rate_limit:auth.login", rule)
	require.NoError(t, err)
	assert.False(t, ok, "第6次应拒绝")

	// 一个补充周期后恢复
	now = now.Add(time.Second)
	ok, err = l.Allow(ctx, "rate_limit:auth.login", rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLimiterRefillCapped(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	rule := Rule{Key: "k", Capacity: 3, RefillTokens: 3, RefillPeriod: time.Second}
	ctx := context.Background()

	// 长时间闲置后补充不超过容量
	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "k", rule)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", rule)
	assert.False(t, ok)
}

func TestLocalLimiterIndependentKeys(t *testing.T) {
	l := NewLocalLimiter()
	rule := Rule{Key: "k", Capacity: 1, RefillTokens: 1, RefillPeriod: time.Minute}
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "rate_limit:k:1.1.1.1", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "rate_limit:k:1.1.1.1", rule)
	assert.False(t, ok)

	// 其他key有独立的桶
	ok, _ = l.Allow(ctx, "rate_limit:k:2.2.2.2", rule)
	assert.True(t, ok)

	assert.Equal(t, 2, l.Size())
}

func TestBucketKey(t *testing.T) {
	tests := []struct {
		rule   Rule
		ip     string
		userID int64
		want   string
	}{
		{Rule{Key: "api", Scope: ScopeGlobal}, "1.1.1.1", 7, "rate_limit:api"},
		{Rule{Key: "api", Scope: ScopePerIP}, "1.1.1.1", 7, "rate_limit:api:1.1.1.1"},
		{Rule{Key: "api", Scope: ScopePerUser}, "1.1.1.1", 7, "rate_limit:api:7"},
		{Rule{Key: "api", Scope: ScopePerUser}, "1.1.1.1", 0, "rate_limit:api:anon"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rule.BucketKey(tt.ip, tt.userID))
	}
}

func TestRuleNormalize(t *testing.T) {
	r := Rule{}.normalize()
	assert.Equal(t, 100, r.Capacity)
	assert.Equal(t, 100, r.RefillTokens)
	assert.Equal(t, time.Second, r.RefillPeriod)
	assert.Equal(t, ScopeGlobal, r.Scope)
}
