package errors

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	ErrNotFound       = New(404, "资源不存在")
	ErrUnauthorized   = New(401, "未授权")
	ErrForbidden      = New(403, "禁止访问")
	ErrBadRequest     = New(400, "请求错误")
	ErrInternalServer = New(500, "服务器内部错误")
	ErrTooManyRequest = New(429, "请求过于频繁，请稍后重试")

	// 基础设施错误：数据库不可达，禁止与"无权限"混同
	ErrDataAccess = New(500, "数据访问失败")
	// 基础设施错误：缓存存储不可达，调用方应降级直查
	ErrCacheUnavailable = New(500, "缓存服务不可用")
	// 预期错误：重建互斥锁未在退避窗口内获得，触发直查兜底
	ErrLockTimeout = New(500, "缓存重建锁等待超时")
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 解包错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 支持errors.Is按预定义错误匹配
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// DataAccess 包装数据访问错误
func DataAccess(err error) *AppError {
	return &AppError{
		Code:    ErrDataAccess.Code,
		Message: ErrDataAccess.Message,
		Err:     err,
	}
}

// CacheUnavailable 包装缓存不可用错误
func CacheUnavailable(err error) *AppError {
	return &AppError{
		Code:    ErrCacheUnavailable.Code,
		Message: ErrCacheUnavailable.Message,
		Err:     err,
	}
}

// Is 检查是否为指定错误
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 类型转换错误
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetCode 获取错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 500
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Unauthorized 创建未授权错误
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "未授权"
	}
	return &AppError{
		Code:    401,
		Message: message,
	}
}

// Forbidden 创建禁止访问错误
func Forbidden(message string) *AppError {
	if message == "" {
		message = "禁止访问"
	}
	return &AppError{
		Code:    403,
		Message: message,
	}
}

// TooManyRequests 创建限流错误
func TooManyRequests(message string) *AppError {
	if message == "" {
		message = ErrTooManyRequest.Message
	}
	return &AppError{
		Code:    429,
		Message: message,
	}
}

// Internal 创建内部错误
func Internal(message string) *AppError {
	if message == "" {
		message = "服务器内部错误"
	}
	return &AppError{
		Code:    500,
		Message: message,
	}
}
