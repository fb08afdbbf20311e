package handler

import (
	"strconv"

	"github.com/IvanFan-sky/sky-admin/internal/authz"
	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/internal/perm"
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
	"github.com/IvanFan-sky/sky-admin/pkg/middleware"
	"github.com/IvanFan-sky/sky-admin/pkg/response"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Controller 权限管理控制器
// 只保留触发缓存失效协议的最小变更面，完整CRUD不在此层
type Controller struct {
	db       *gorm.DB
	userRole *dal.BaseRepository[model.UserRole]
	perms    *dal.BaseRepository[model.Permission]
	menus    *dal.BaseRepository[model.Menu]
	cache    *perm.Cache
	enforcer *authz.Enforcer
}

// NewController 创建控制器
func NewController(db *gorm.DB, cache *perm.Cache, enforcer *authz.Enforcer) *Controller {
	return &Controller{
		db:       db,
		userRole: dal.NewBaseRepository[model.UserRole](db),
		perms:    dal.NewBaseRepository[model.Permission](db),
		menus:    dal.NewBaseRepository[model.Menu](db),
		cache:    cache,
		enforcer: enforcer,
	}
}

// RegisterRoutes 注册路由
func (c *Controller) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	me := r.Group("/me", jwtMiddleware)
	me.Get("/roles", c.MyRoles)
	me.Get("/permissions", c.MyPermissions)
	me.Get("/menus", c.MyMenuTree)

	adminPolicy := authz.Policy{
		Permissions:     []string{"system:rbac:write"},
		AllowSuperAdmin: true,
	}
	admin := r.Group("/admin", jwtMiddleware, c.enforcer.Require(adminPolicy))
	admin.Post("/users/:id/roles", c.AssignRole)
	admin.Delete("/users/:id/roles/:roleId", c.RevokeRole)
	admin.Put("/permissions/:id/status", c.UpdatePermissionStatus)
	admin.Put("/menus/:id/status", c.UpdateMenuStatus)
	admin.Post("/cache/flush", c.FlushCache)
	admin.Post("/cache/warmup", c.WarmUp)
}

// MyRoles 当前用户角色编码
func (c *Controller) MyRoles(ctx *fiber.Ctx) error {
	codes, err := c.cache.GetRoleCodes(ctx.UserContext(), middleware.UserID(ctx))
	if err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, codes)
}

// MyPermissions 当前用户权限编码
func (c *Controller) MyPermissions(ctx *fiber.Ctx) error {
	codes, err := c.cache.GetPermissionCodes(ctx.UserContext(), middleware.UserID(ctx))
	if err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, codes)
}

// MyMenuTree 当前用户菜单树
func (c *Controller) MyMenuTree(ctx *fiber.Ctx) error {
	tree, err := c.cache.GetMenuTree(ctx.UserContext(), middleware.UserID(ctx))
	if err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, tree)
}

// AssignRole 给用户分配角色，成功后失效该用户的缓存视图
func (c *Controller) AssignRole(ctx *fiber.Ctx) error {
	userID, _ := strconv.ParseInt(ctx.Params("id"), 10, 64)
	if userID == 0 {
		return response.Error(ctx, 400, "invalid user id")
	}

	var req AssignRoleRequest
	if err := ctx.BodyParser(&req); err != nil || req.RoleID == 0 {
		return response.Error(ctx, 400, "invalid role id")
	}

	exists, err := c.userRole.Exists(ctx.UserContext(), map[string]interface{}{
		"user_id": userID,
		"role_id": req.RoleID,
	})
	if err != nil {
		return response.FromError(ctx, err)
	}
	if !exists {
		if err := c.userRole.Create(ctx.UserContext(), &model.UserRole{
			UserID: userID,
			RoleID: req.RoleID,
		}); err != nil {
			return response.FromError(ctx, err)
		}
	}

	if err := c.cache.InvalidateUser(ctx.UserContext(), userID); err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, nil)
}

// RevokeRole 撤销用户角色，成功后失效该用户的缓存视图
func (c *Controller) RevokeRole(ctx *fiber.Ctx) error {
	userID, _ := strconv.ParseInt(ctx.Params("id"), 10, 64)
	roleID, _ := strconv.ParseInt(ctx.Params("roleId"), 10, 64)
	if userID == 0 || roleID == 0 {
		return response.Error(ctx, 400, "invalid user or role id")
	}

	err := c.db.WithContext(ctx.UserContext()).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&model.UserRole{}).Error
	if err != nil {
		return response.FromError(ctx, err)
	}

	if err := c.cache.InvalidateUser(ctx.UserContext(), userID); err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, nil)
}

// UpdatePermissionStatus 启停权限，按配置策略失效受影响用户
func (c *Controller) UpdatePermissionStatus(ctx *fiber.Ctx) error {
	id, _ := strconv.ParseInt(ctx.Params("id"), 10, 64)
	if id == 0 {
		return response.Error(ctx, 400, "invalid permission id")
	}

	var req UpdateStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.Error(ctx, 400, err.Error())
	}

	if err := c.perms.UpdateFields(ctx.UserContext(), id, map[string]interface{}{
		"status": req.Status,
	}); err != nil {
		return response.FromError(ctx, err)
	}

	if err := c.cache.InvalidateByPermissionChange(ctx.UserContext(), id); err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, nil)
}

// UpdateMenuStatus 启停菜单，按配置策略失效受影响用户
func (c *Controller) UpdateMenuStatus(ctx *fiber.Ctx) error {
	id, _ := strconv.ParseInt(ctx.Params("id"), 10, 64)
	if id == 0 {
		return response.Error(ctx, 400, "invalid menu id")
	}

	var req UpdateStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.Error(ctx, 400, err.Error())
	}

	if err := c.menus.UpdateFields(ctx.UserContext(), id, map[string]interface{}{
		"status": req.Status,
	}); err != nil {
		return response.FromError(ctx, err)
	}

	if err := c.cache.InvalidateByMenuChange(ctx.UserContext(), id); err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, nil)
}

// FlushCache 全量刷新权限缓存
func (c *Controller) FlushCache(ctx *fiber.Ctx) error {
	if err := c.cache.InvalidateAll(ctx.UserContext()); err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, nil)
}

// WarmUp 预热活跃用户
func (c *Controller) WarmUp(ctx *fiber.Ctx) error {
	count, err := c.cache.WarmUpActiveUsers(ctx.UserContext())
	if err != nil {
		return response.FromError(ctx, err)
	}
	return response.Success(ctx, fiber.Map{"warmed": count})
}
