package ratelimit

import (
	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/response"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Middleware 限流中间件
// 规则在路由注册时显式传入；拒绝立即返回429与配置的消息，
// 不排队不重试；限流器自身故障时放行并告警（不能拿故障当拒绝）
func Middleware(limiter Limiter, rule Rule) fiber.Handler {
	rule = rule.normalize()
	return func(c *fiber.Ctx) error {
		key := rule.BucketKey(c.IP(), userIDFromCtx(c))

		allowed, err := limiter.Allow(c.UserContext(), key, rule)
		if err != nil {
			logger.Warn("ratelimit: 限流器不可用，放行",
				zap.String("key", key), zap.Error(err))
			return c.Next()
		}

		if !allowed {
			return response.TooManyRequests(c, rule.Message)
		}
		return c.Next()
	}
}

// userIDFromCtx 从请求上下文取用户ID，未认证返回0
func userIDFromCtx(c *fiber.Ctx) int64 {
	if v := c.Locals("userId"); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
