package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Scope 限流维度
type Scope string

const (
	ScopeGlobal  Scope = "GLOBAL"   // 全局共享一个桶
	ScopePerIP   Scope = "PER_IP"   // 每个来源IP一个桶
	ScopePerUser Scope = "PER_USER" // 每个用户一个桶，匿名用户共享anon桶
)

// keyPrefix 桶key前缀，对外为稳定格式，跨版本保持兼容
const keyPrefix = "rate_limit"

// AnonymousSuffix 匿名用户的PER_USER后缀
const AnonymousSuffix = "anon"

// Rule 单个调用点的限流规则
// 在路由注册时显式声明，不做运行时反射扫描
type Rule struct {
	Key          string        // 调用点标识，必填，如 "auth.login"
	Capacity     int           // 桶容量
	RefillTokens int           // 每周期补充的令牌数
	RefillPeriod time.Duration // 补充周期
	Scope        Scope         // 限流维度
	Message      string        // 拒绝时返回给调用方的消息
}

// normalize 填充默认值
func (r Rule) normalize() Rule {
	if r.Capacity <= 0 {
		r.Capacity = 100
	}
	if r.RefillTokens <= 0 {
		r.RefillTokens = r.Capacity
	}
	if r.RefillPeriod <= 0 {
		r.RefillPeriod = time.Second
	}
	if r.Scope == "" {
		r.Scope = ScopeGlobal
	}
	return r
}

// BucketKey 构造桶key："rate_limit:{调用点}:{维度后缀}"
// GLOBAL无后缀，PER_IP为来源IP，PER_USER为用户ID（匿名为anon）
func (r Rule) BucketKey(ip string, userID int64) string {
	switch r.Scope {
	case ScopePerIP:
		if ip == "" {
			ip = "unknown"
		}
		return fmt.Sprintf("%s:%s:%s", keyPrefix, r.Key, ip)
	case ScopePerUser:
		if userID <= 0 {
			return fmt.Sprintf("%s:%s:%s", keyPrefix, r.Key, AnonymousSuffix)
		}
		return fmt.Sprintf("%s:%s:%d", keyPrefix, r.Key, userID)
	default:
		return fmt.Sprintf("%s:%s", keyPrefix, r.Key)
	}
}

// Limiter 令牌桶准入接口
// Allow消耗一个令牌，返回是否放行；拒绝是预期结果而非错误
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
}
