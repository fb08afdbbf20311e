package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter 进程内令牌桶
// 桶按key驻留在本地map中，不随请求重建；多实例部署时每个实例
// 各自计数，实际放行量为配置值的N倍——需要精确全局额度时
// 使用RedisLimiter
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens       int
	lastRefill   time.Time
	capacity     int
	refillTokens int
	period       time.Duration
}

// NewLocalLimiter 创建进程内限流器
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow 尝试消耗一个令牌
func (l *LocalLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	rule = rule.normalize()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:       rule.Capacity,
			lastRefill:   now,
			capacity:     rule.Capacity,
			refillTokens: rule.RefillTokens,
			period:       rule.RefillPeriod,
		}
		l.buckets[key] = b
	}

	b.refill(now)

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// refill 按经过的完整周期数补充令牌
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.period {
		return
	}
	intervals := int64(elapsed / b.period)
	b.tokens += int(intervals) * b.refillTokens
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.period)
}

// Size 当前驻留的桶数量
func (l *LocalLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
