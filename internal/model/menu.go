package model

import (
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
)

// Menu 菜单模型
type Menu struct {
	dal.Model
	ParentID  int64   `gorm:"default:0;index" json:"parentId"`
	Name      string  `gorm:"size:50;not null" json:"name"`
	Code      string  `gorm:"size:100" json:"code"`
	Path      string  `gorm:"size:255" json:"path"`
	Component string  `gorm:"size:255" json:"component"`
	Icon      string  `gorm:"size:50" json:"icon"`
	Visible   int8    `gorm:"default:1" json:"visible"`
	Status    int8    `gorm:"default:1" json:"status"`
	Sort      int     `gorm:"default:0" json:"sort"`
	Children  []*Menu `gorm:"-" json:"children,omitempty"`
}

// TableName 表名
func (Menu) TableName() string {
	return "sys_menu"
}

// GetID 节点ID
func (m *Menu) GetID() int64 { return m.ID }

// GetParentID 父节点ID
func (m *Menu) GetParentID() int64 { return m.ParentID }

// GetSort 兄弟排序键
func (m *Menu) GetSort() int { return m.Sort }

// GetChildren 子节点
func (m *Menu) GetChildren() []*Menu { return m.Children }

// SetChildren 设置子节点
func (m *Menu) SetChildren(children []*Menu) { m.Children = children }
