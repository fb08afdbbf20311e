package model

import (
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
)

// Permission 权限模型
// Path/Method非空时代表一条API路由权限
type Permission struct {
	dal.Model
	ParentID    int64  `gorm:"default:0;index" json:"parentId"`
	Name        string `gorm:"size:50;not null" json:"name"`
	Code        string `gorm:"size:100;uniqueIndex;not null" json:"code"`
	Path        string `gorm:"size:255" json:"path"`
	Method      string `gorm:"size:10" json:"method"`
	Status      int8   `gorm:"default:1" json:"status"`
	Sort        int    `gorm:"default:0" json:"sort"`
	Description string `gorm:"size:255" json:"description"`
}

// TableName 表名
func (Permission) TableName() string {
	return "sys_permission"
}
