package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript 服务端原子令牌桶
// 读取-补充-扣减在单次EVAL内完成，多实例共享同一份计数
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
    tokens = capacity
    last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
    local elapsed = now_ms - last_refill
    if elapsed < 0 then elapsed = 0 end
    local intervals = math.floor(elapsed / interval_ms)
    if intervals > 0 then
        tokens = math.min(capacity, tokens + (intervals * refill_tokens))
        last_refill = last_refill + (intervals * interval_ms)
    end
end

local allowed = 0
if tokens > 0 then
    allowed = 1
    tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return allowed
`)

// RedisLimiter 分布式令牌桶
// 桶状态放在共享存储中由Lua脚本原子更新，放行量与实例数无关
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter 创建分布式限流器
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		now:    time.Now,
	}
}

// Allow 尝试消耗一个令牌
func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	rule = rule.normalize()

	// 桶闲置两个满额补充周期后自动过期
	ttl := int64(rule.RefillPeriod/time.Second) * 2
	if ttl < 60 {
		ttl = 60
	}

	result, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		l.now().UnixMilli(),
		rule.Capacity,
		rule.RefillTokens,
		rule.RefillPeriod.Milliseconds(),
		ttl,
	).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
