package model

import (
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
)

// User 用户模型
type User struct {
	dal.Model
	Username string `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Password string `gorm:"size:255;not null" json:"-"`
	Nickname string `gorm:"size:50" json:"nickname"`
	Email    string `gorm:"size:100" json:"email"`
	Phone    string `gorm:"size:20" json:"phone"`
	Status   int8   `gorm:"default:1" json:"status"` // 1:正常 0:禁用
}

// TableName 表名
func (User) TableName() string {
	return "sys_user"
}

// UserRole 用户角色关联
type UserRole struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"index:idx_user_role;not null" json:"userId"`
	RoleID int64 `gorm:"index:idx_user_role;not null" json:"roleId"`
}

// TableName 表名
func (UserRole) TableName() string {
	return "sys_user_role"
}
