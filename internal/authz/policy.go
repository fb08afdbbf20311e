package authz

// Logic 多项要求的组合方式
type Logic string

const (
	LogicAnd Logic = "AND" // 全部满足
	LogicOr  Logic = "OR"  // 任一满足
)

// SuperAdminRole 超级管理员角色编码
const SuperAdminRole = "super_admin"

// Policy 路由鉴权策略
// 在路由注册时显式挂载，不做运行时注解扫描
type Policy struct {
	Permissions     []string // 要求的权限编码
	Roles           []string // 要求的角色编码
	Logic           Logic    // 组合方式，默认AND
	AllowSuperAdmin bool     // 超级管理员直接放行
	Message         string   // 拒绝时返回的消息
}

// normalize 填充默认值
func (p Policy) normalize() Policy {
	if p.Logic == "" {
		p.Logic = LogicAnd
	}
	return p
}
