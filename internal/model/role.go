package model

import (
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
)

// Role 角色模型
type Role struct {
	dal.Model
	Name        string `gorm:"size:50;not null" json:"name"`
	Code        string `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Status      int8   `gorm:"default:1" json:"status"`
	Sort        int    `gorm:"default:0" json:"sort"`
	Description string `gorm:"size:255" json:"description"`
}

// TableName 表名
func (Role) TableName() string {
	return "sys_role"
}

// RolePermission 角色权限关联
type RolePermission struct {
	ID           int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleID       int64 `gorm:"index:idx_role_perm;not null" json:"roleId"`
	PermissionID int64 `gorm:"index:idx_role_perm;not null" json:"permissionId"`
}

// TableName 表名
func (RolePermission) TableName() string {
	return "sys_role_permission"
}

// RoleMenu 角色菜单关联
type RoleMenu struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleID int64 `gorm:"index:idx_role_menu;not null" json:"roleId"`
	MenuID int64 `gorm:"index:idx_role_menu;not null" json:"menuId"`
}

// TableName 表名
func (RoleMenu) TableName() string {
	return "sys_role_menu"
}
