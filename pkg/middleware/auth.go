package middleware

import (
	"strings"

	"github.com/IvanFan-sky/sky-admin/pkg/auth"
	"github.com/IvanFan-sky/sky-admin/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// 请求上下文键
const (
	CtxUserID   = "userId"
	CtxUsername = "username"
)

// JWTAuth JWT认证中间件
// 解析Bearer token并把用户身份写入请求上下文，供鉴权与限流使用
func JWTAuth(manager *auth.JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return response.Unauthorized(c, "缺少认证信息")
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return response.Unauthorized(c, "认证格式错误")
		}

		claims, err := manager.ParseToken(token)
		if err != nil {
			if err == auth.ErrTokenExpired {
				return response.Unauthorized(c, "登录已过期")
			}
			return response.Unauthorized(c, "无效的认证信息")
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxUsername, claims.Username)
		return c.Next()
	}
}

// UserID 从请求上下文取当前用户ID，未认证返回0
func UserID(c *fiber.Ctx) int64 {
	if v := c.Locals(CtxUserID); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
