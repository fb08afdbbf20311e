package response

import (
	"net/http"

	"github.com/IvanFan-sky/sky-admin/pkg/errors"
	"github.com/gofiber/fiber/v2"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// 响应码定义
const (
	CodeSuccess      = 0
	CodeError        = 1
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeTooMany      = 429
	CodeServerError  = 500
)

// Success 成功响应
func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(http.StatusOK).JSON(Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *fiber.Ctx, code int, message string) error {
	return c.Status(http.StatusOK).JSON(Response{
		Code:    code,
		Message: message,
	})
}

// Unauthorized 未授权
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "未授权"
	}
	return c.Status(http.StatusUnauthorized).JSON(Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// Forbidden 禁止访问
func Forbidden(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "禁止访问"
	}
	return c.Status(http.StatusForbidden).JSON(Response{
		Code:    CodeForbidden,
		Message: message,
	})
}

// TooManyRequests 限流拒绝
func TooManyRequests(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "请求过于频繁，请稍后重试"
	}
	return c.Status(http.StatusTooManyRequests).JSON(Response{
		Code:    CodeTooMany,
		Message: message,
	})
}

// ServerError 服务器错误，不向外泄露存储细节
func ServerError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "服务器内部错误"
	}
	return c.Status(http.StatusInternalServerError).JSON(Response{
		Code:    CodeServerError,
		Message: message,
	})
}

// FromError 按应用错误码返回响应
func FromError(c *fiber.Ctx, err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case 401:
			return Unauthorized(c, appErr.Message)
		case 403:
			return Forbidden(c, appErr.Message)
		case 429:
			return TooManyRequests(c, appErr.Message)
		case 404:
			return c.Status(http.StatusNotFound).JSON(Response{Code: CodeNotFound, Message: appErr.Message})
		default:
			return ServerError(c, "")
		}
	}
	return ServerError(c, "")
}
