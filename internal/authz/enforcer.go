package authz

import (
	"context"

	"github.com/IvanFan-sky/sky-admin/internal/perm"
	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/middleware"
	"github.com/IvanFan-sky/sky-admin/pkg/response"
	"github.com/IvanFan-sky/sky-admin/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Enforcer 权限执行点
// 只查权限缓存，从不直连关系存储；基础设施故障时拒绝放行（fail closed）
// 并以error级别记录，预期的鉴权拒绝只是普通业务结果不打错误日志
type Enforcer struct {
	cache *perm.Cache
}

// NewEnforcer 创建权限执行点
func NewEnforcer(cache *perm.Cache) *Enforcer {
	return &Enforcer{cache: cache}
}

// Require 按策略鉴权的中间件
// 未认证返回401，权限不足返回403，基础设施故障返回500且不泄露存储细节
func (e *Enforcer) Require(policy Policy) fiber.Handler {
	policy = policy.normalize()
	return func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		if userID <= 0 {
			return response.Unauthorized(c, "")
		}

		allowed, err := e.Allowed(c.UserContext(), userID, policy)
		if err != nil {
			logger.Error("authz: 鉴权依赖故障，拒绝请求",
				zap.Int64("userId", userID),
				zap.String("path", c.Path()),
				zap.Error(err))
			return response.ServerError(c, "")
		}

		if !allowed {
			return response.Forbidden(c, policy.Message)
		}
		return c.Next()
	}
}

// Allowed 评估策略
// 无任何要求视为放行；AND要求全部权限与角色满足，OR任一满足即可
func (e *Enforcer) Allowed(ctx context.Context, userID int64, policy Policy) (bool, error) {
	policy = policy.normalize()

	if policy.AllowSuperAdmin {
		isSuper, err := e.cache.HasRole(ctx, userID, SuperAdminRole)
		if err != nil {
			return false, err
		}
		if isSuper {
			return true, nil
		}
	}

	if len(policy.Permissions) == 0 && len(policy.Roles) == 0 {
		return true, nil
	}

	var permCodes, roleCodes []string
	var err error
	if len(policy.Permissions) > 0 {
		permCodes, err = e.cache.GetPermissionCodes(ctx, userID)
		if err != nil {
			return false, err
		}
	}
	if len(policy.Roles) > 0 {
		roleCodes, err = e.cache.GetRoleCodes(ctx, userID)
		if err != nil {
			return false, err
		}
	}

	if policy.Logic == LogicOr {
		for _, code := range policy.Permissions {
			if utils.Contains(permCodes, code) {
				return true, nil
			}
		}
		for _, code := range policy.Roles {
			if utils.Contains(roleCodes, code) {
				return true, nil
			}
		}
		return false, nil
	}

	for _, code := range policy.Permissions {
		if !utils.Contains(permCodes, code) {
			return false, nil
		}
	}
	for _, code := range policy.Roles {
		if !utils.Contains(roleCodes, code) {
			return false, nil
		}
	}
	return true, nil
}
