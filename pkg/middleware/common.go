package middleware

import (
	"fmt"
	"runtime"

	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/response"
	"github.com/IvanFan-sky/sky-admin/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CtxRequestID 请求ID上下文键
const CtxRequestID = "requestId"

// Recovery panic恢复中间件
func Recovery() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4<<10)
				length := runtime.Stack(stack, false)
				logger.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Path()),
					zap.ByteString("stack", stack[:length]))
				err = response.ServerError(c, "")
			}
		}()
		return c.Next()
	}
}

// RequestID 请求ID中间件，透传或生成X-Request-ID
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = utils.UUID()
		}
		c.Locals(CtxRequestID, requestID)
		c.Set(fiber.HeaderXRequestID, requestID)
		return c.Next()
	}
}

// Cors 跨域中间件
func Cors() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET,POST,PUT,DELETE,OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Origin, Content-Type, Accept, Authorization, X-Request-ID")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

// AccessLog 访问日志中间件，错误响应以warn级别记录
func AccessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.String("ip", c.IP()),
		}
		if v, ok := c.Locals(CtxRequestID).(string); ok {
			fields = append(fields, zap.String("requestId", v))
		}

		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			logger.Warn(fmt.Sprintf("%s %s", c.Method(), c.Path()), fields...)
		} else {
			logger.Debug(fmt.Sprintf("%s %s", c.Method(), c.Path()), fields...)
		}
		return err
	}
}
