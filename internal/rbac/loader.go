package rbac

import (
	"context"

	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/pkg/errors"
	"gorm.io/gorm"
)

// Loader 权限图读取接口
// 只读访问关系存储中的用户-角色-权限-菜单图；
// 主体不存在或无授权返回空切片（不返回nil），
// 存储不可达返回ErrDataAccess，调用方不得将其当作"无权限"
type Loader interface {
	RolesByUser(ctx context.Context, userID int64) ([]model.Role, error)
	PermissionsByUser(ctx context.Context, userID int64) ([]model.Permission, error)
	MenusByUser(ctx context.Context, userID int64) ([]*model.Menu, error)
	PermissionsByRole(ctx context.Context, roleID int64) ([]model.Permission, error)
	MenusByRole(ctx context.Context, roleID int64) ([]*model.Menu, error)
	UserIDsByRole(ctx context.Context, roleID int64) ([]int64, error)
	RoleIDsByPermission(ctx context.Context, permissionID int64) ([]int64, error)
	RoleIDsByMenu(ctx context.Context, menuID int64) ([]int64, error)
	ActiveUserIDs(ctx context.Context, limit int) ([]int64, error)
}

// GormLoader 基于gorm的权限图读取实现
type GormLoader struct {
	db *gorm.DB
}

// NewGormLoader 创建权限图读取器
func NewGormLoader(db *gorm.DB) *GormLoader {
	return &GormLoader{db: db}
}

// RolesByUser 查询用户的启用角色，按sort升序
func (l *GormLoader) RolesByUser(ctx context.Context, userID int64) ([]model.Role, error) {
	roles := make([]model.Role, 0)
	err := l.db.WithContext(ctx).
		Joins("JOIN sys_user_role ur ON ur.role_id = sys_role.id").
		Where("ur.user_id = ? AND sys_role.status = 1", userID).
		Order("sys_role.sort ASC, sys_role.id ASC").
		Find(&roles).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return roles, nil
}

// PermissionsByUser 查询用户经由所有角色获得的启用权限，去重后按sort升序
func (l *GormLoader) PermissionsByUser(ctx context.Context, userID int64) ([]model.Permission, error) {
	perms := make([]model.Permission, 0)
	err := l.db.WithContext(ctx).
		Distinct("sys_permission.*").
		Joins("JOIN sys_role_permission rp ON rp.permission_id = sys_permission.id").
		Joins("JOIN sys_user_role ur ON ur.role_id = rp.role_id").
		Where("ur.user_id = ? AND sys_permission.status = 1", userID).
		Order("sys_permission.sort ASC, sys_permission.id ASC").
		Find(&perms).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return perms, nil
}

// MenusByUser 查询用户经由所有角色获得的启用菜单，去重后按sort升序
func (l *GormLoader) MenusByUser(ctx context.Context, userID int64) ([]*model.Menu, error) {
	menus := make([]*model.Menu, 0)
	err := l.db.WithContext(ctx).
		Distinct("sys_menu.*").
		Joins("JOIN sys_role_menu rm ON rm.menu_id = sys_menu.id").
		Joins("JOIN sys_user_role ur ON ur.role_id = rm.role_id").
		Where("ur.user_id = ? AND sys_menu.status = 1", userID).
		Order("sys_menu.sort ASC, sys_menu.id ASC").
		Find(&menus).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return menus, nil
}

// PermissionsByRole 查询角色授予的启用权限，按sort升序
func (l *GormLoader) PermissionsByRole(ctx context.Context, roleID int64) ([]model.Permission, error) {
	perms := make([]model.Permission, 0)
	err := l.db.WithContext(ctx).
		Joins("JOIN sys_role_permission rp ON rp.permission_id = sys_permission.id").
		Where("rp.role_id = ? AND sys_permission.status = 1", roleID).
		Order("sys_permission.sort ASC, sys_permission.id ASC").
		Find(&perms).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return perms, nil
}

// MenusByRole 查询角色授予的启用菜单，按sort升序
func (l *GormLoader) MenusByRole(ctx context.Context, roleID int64) ([]*model.Menu, error) {
	menus := make([]*model.Menu, 0)
	err := l.db.WithContext(ctx).
		Joins("JOIN sys_role_menu rm ON rm.menu_id = sys_menu.id").
		Where("rm.role_id = ? AND sys_menu.status = 1", roleID).
		Order("sys_menu.sort ASC, sys_menu.id ASC").
		Find(&menus).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return menus, nil
}

// UserIDsByRole 查询当前持有角色的用户ID，供失效扇出使用
func (l *GormLoader) UserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := l.db.WithContext(ctx).
		Model(&model.UserRole{}).
		Where("role_id = ?", roleID).
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return ids, nil
}

// RoleIDsByPermission 查询授予某权限的角色ID，供精确扇出使用
func (l *GormLoader) RoleIDsByPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := l.db.WithContext(ctx).
		Model(&model.RolePermission{}).
		Where("permission_id = ?", permissionID).
		Distinct().
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return ids, nil
}

// RoleIDsByMenu 查询授予某菜单的角色ID，供精确扇出使用
func (l *GormLoader) RoleIDsByMenu(ctx context.Context, menuID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := l.db.WithContext(ctx).
		Model(&model.RoleMenu{}).
		Where("menu_id = ?", menuID).
		Distinct().
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return ids, nil
}

// ActiveUserIDs 查询最近活跃的启用用户，按更新时间倒序限量返回，供预热使用
func (l *GormLoader) ActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	ids := make([]int64, 0, limit)
	err := l.db.WithContext(ctx).
		Model(&model.User{}).
		Where("status = 1").
		Order("updated_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.DataAccess(err)
	}
	return ids, nil
}
