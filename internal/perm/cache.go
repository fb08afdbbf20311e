package perm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/internal/rbac"
	"github.com/IvanFan-sky/sky-admin/pkg/cacheguard"
	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/tree"
	"github.com/IvanFan-sky/sky-admin/pkg/utils"
	"go.uber.org/zap"
)

// 视图类型，key格式 "perm:{view}:{userId}" 是对外稳定格式，跨版本保持兼容
const (
	viewRoleCodes = "roleCodes"
	viewPermCodes = "permCodes"
	viewMenus     = "menus"
	viewMenuTree  = "menuTree"
	viewMenuPaths = "menuPaths"
	viewApiPaths  = "apiPaths"
)

// keyPrefix 权限缓存key前缀
const keyPrefix = "perm"

// allViews 单用户全量失效时覆盖的视图集合
var allViews = []string{viewRoleCodes, viewPermCodes, viewMenus, viewMenuTree, viewMenuPaths, viewApiPaths}

// Strategy 权限/菜单变更时的失效策略
type Strategy string

const (
	// StrategyCoarse 粗粒度：刷掉全部用户，正确性优先
	StrategyCoarse Strategy = "coarse"
	// StrategyFanout 精确扇出：权限→角色→用户逐级展开后逐个失效
	StrategyFanout Strategy = "fanout"
)

// Route API路由项
type Route struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// Options 缓存参数
type Options struct {
	BaseTTL     time.Duration // 视图基础TTL，写入时由防护层加抖动
	Strategy    Strategy      // 失效策略
	WarmUpBatch int           // 预热批次上限
}

// Cache 用户权限视图缓存
// 把"用户U是否有权限P/角色R/路径(方法,路径)"变成对共享存储的O(1)查询；
// 读穿经由防护层（抖动TTL、空值标记、互斥重建），写侧通过失效协议保持一致
type Cache struct {
	guard  *cacheguard.Guard
	loader rbac.Loader
	opts   Options
}

// NewCache 创建权限缓存
func NewCache(guard *cacheguard.Guard, loader rbac.Loader, opts Options) *Cache {
	if opts.BaseTTL <= 0 {
		opts.BaseTTL = 30 * time.Minute
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyCoarse
	}
	if opts.WarmUpBatch <= 0 {
		opts.WarmUpBatch = 100
	}
	return &Cache{
		guard:  guard,
		loader: loader,
		opts:   opts,
	}
}

// key 构造视图key
func (c *Cache) key(view string, userID int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, view, userID)
}

// GetRoleCodes 用户的角色编码集合
func (c *Cache) GetRoleCodes(ctx context.Context, userID int64) ([]string, error) {
	codes, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewRoleCodes, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]string, bool, error) {
			roles, err := c.loader.RolesByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			codes := make([]string, 0, len(roles))
			for _, r := range roles {
				codes = append(codes, r.Code)
			}
			return codes, len(codes) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// GetPermissionCodes 用户的权限编码集合
func (c *Cache) GetPermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	codes, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewPermCodes, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]string, bool, error) {
			perms, err := c.loader.PermissionsByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			codes := make([]string, 0, len(perms))
			for _, p := range perms {
				codes = append(codes, p.Code)
			}
			return codes, len(codes) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// GetMenus 用户的平铺菜单列表
func (c *Cache) GetMenus(ctx context.Context, userID int64) ([]*model.Menu, error) {
	menus, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewMenus, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]*model.Menu, bool, error) {
			menus, err := c.loader.MenusByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			return menus, len(menus) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if menus == nil {
		menus = []*model.Menu{}
	}
	return menus, nil
}

// GetMenuTree 用户的菜单树，根节点parentId=0，兄弟按sort升序
func (c *Cache) GetMenuTree(ctx context.Context, userID int64) ([]*model.Menu, error) {
	roots, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewMenuTree, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]*model.Menu, bool, error) {
			menus, err := c.loader.MenusByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			if orphans := tree.Orphans(menus, 0); len(orphans) > 0 {
				ids := make([]int64, len(orphans))
				for i, o := range orphans {
					ids[i] = o.ID
				}
				logger.Warn("perm: 菜单树存在不可达节点", zap.Int64("userId", userID), zap.Int64s("menuIds", ids))
			}
			roots := tree.Build(menus, 0)
			return roots, len(roots) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if roots == nil {
		roots = []*model.Menu{}
	}
	return roots, nil
}

// GetMenuPaths 用户可访问的页面路径集合
func (c *Cache) GetMenuPaths(ctx context.Context, userID int64) ([]string, error) {
	paths, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewMenuPaths, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]string, bool, error) {
			menus, err := c.loader.MenusByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			paths := make([]string, 0, len(menus))
			for _, m := range menus {
				if m.Path != "" {
					paths = append(paths, m.Path)
				}
			}
			paths = utils.Unique(paths)
			return paths, len(paths) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// GetApiPaths 用户可访问的API路由集合（带路径+方法的权限）
func (c *Cache) GetApiPaths(ctx context.Context, userID int64) ([]Route, error) {
	routes, _, err := cacheguard.FetchWithMutex(ctx, c.guard, c.key(viewApiPaths, userID), c.opts.BaseTTL,
		func(ctx context.Context) ([]Route, bool, error) {
			perms, err := c.loader.PermissionsByUser(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			routes := make([]Route, 0, len(perms))
			for _, p := range perms {
				if p.Path != "" && p.Method != "" {
					routes = append(routes, Route{Path: p.Path, Method: strings.ToUpper(p.Method)})
				}
			}
			return routes, len(routes) > 0, nil
		})
	if err != nil {
		return nil, err
	}
	if routes == nil {
		routes = []Route{}
	}
	return routes, nil
}

// HasPermission 用户是否拥有指定权限编码，始终经过缓存
func (c *Cache) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	codes, err := c.GetPermissionCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	return utils.Contains(codes, code), nil
}

// HasRole 用户是否拥有指定角色编码
func (c *Cache) HasRole(ctx context.Context, userID int64, code string) (bool, error) {
	codes, err := c.GetRoleCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	return utils.Contains(codes, code), nil
}

// HasPathAccess 用户是否可访问路径
// method非空时匹配API路由（方法不区分大小写），为空时匹配页面路径
func (c *Cache) HasPathAccess(ctx context.Context, userID int64, path, method string) (bool, error) {
	if method == "" {
		paths, err := c.GetMenuPaths(ctx, userID)
		if err != nil {
			return false, err
		}
		return utils.Contains(paths, path), nil
	}

	routes, err := c.GetApiPaths(ctx, userID)
	if err != nil {
		return false, err
	}
	method = strings.ToUpper(method)
	for _, r := range routes {
		if r.Path == path && r.Method == method {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUser 失效单个用户的全部视图，重复调用无害
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	keys := make([]string, len(allViews))
	for i, view := range allViews {
		keys[i] = c.key(view, userID)
	}
	return c.guard.Invalidate(ctx, keys...)
}

// InvalidateAll 全量刷新
func (c *Cache) InvalidateAll(ctx context.Context) error {
	deleted, err := c.guard.InvalidateByPrefix(ctx, keyPrefix+":")
	if err != nil {
		return err
	}
	logger.Info("perm: 全量失效完成", zap.Int64("deleted", deleted))
	return nil
}

// InvalidateByRoleChange 角色授权变更：失效当前持有该角色的全部用户
func (c *Cache) InvalidateByRoleChange(ctx context.Context, roleID int64) error {
	userIDs, err := c.loader.UserIDsByRole(ctx, roleID)
	if err != nil {
		return err
	}
	return c.invalidateUsers(ctx, userIDs)
}

// InvalidateByPermissionChange 权限变更
// 粗粒度策略直接全量刷新；扇出策略沿权限→角色→用户展开后逐个失效
func (c *Cache) InvalidateByPermissionChange(ctx context.Context, permissionID int64) error {
	if c.opts.Strategy != StrategyFanout {
		return c.InvalidateAll(ctx)
	}

	roleIDs, err := c.loader.RoleIDsByPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	return c.invalidateByRoles(ctx, roleIDs)
}

// InvalidateByMenuChange 菜单变更，策略同权限变更
func (c *Cache) InvalidateByMenuChange(ctx context.Context, menuID int64) error {
	if c.opts.Strategy != StrategyFanout {
		return c.InvalidateAll(ctx)
	}

	roleIDs, err := c.loader.RoleIDsByMenu(ctx, menuID)
	if err != nil {
		return err
	}
	return c.invalidateByRoles(ctx, roleIDs)
}

// invalidateByRoles 角色集合展开为用户集合后失效，用户去重
func (c *Cache) invalidateByRoles(ctx context.Context, roleIDs []int64) error {
	seen := make(map[int64]bool)
	userIDs := make([]int64, 0)
	for _, roleID := range roleIDs {
		ids, err := c.loader.UserIDsByRole(ctx, roleID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				userIDs = append(userIDs, id)
			}
		}
	}
	return c.invalidateUsers(ctx, userIDs)
}

// invalidateUsers 批量失效
func (c *Cache) invalidateUsers(ctx context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if err := c.InvalidateUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// WarmUpUser 预热单个用户的全部视图，单个视图失败只告警不中断
func (c *Cache) WarmUpUser(ctx context.Context, userID int64) {
	warmers := []struct {
		view string
		fn   func(context.Context, int64) error
	}{
		{viewRoleCodes, func(ctx context.Context, id int64) error { _, err := c.GetRoleCodes(ctx, id); return err }},
		{viewPermCodes, func(ctx context.Context, id int64) error { _, err := c.GetPermissionCodes(ctx, id); return err }},
		{viewMenus, func(ctx context.Context, id int64) error { _, err := c.GetMenus(ctx, id); return err }},
		{viewMenuTree, func(ctx context.Context, id int64) error { _, err := c.GetMenuTree(ctx, id); return err }},
		{viewMenuPaths, func(ctx context.Context, id int64) error { _, err := c.GetMenuPaths(ctx, id); return err }},
		{viewApiPaths, func(ctx context.Context, id int64) error { _, err := c.GetApiPaths(ctx, id); return err }},
	}
	for _, w := range warmers {
		if err := w.fn(ctx, userID); err != nil {
			logger.Warn("perm: 视图预热失败",
				zap.Int64("userId", userID), zap.String("view", w.view), zap.Error(err))
		}
	}
}

// WarmUpActiveUsers 预热最近活跃用户，批次有上限，单个用户失败不中断
// 返回尝试预热的用户数
func (c *Cache) WarmUpActiveUsers(ctx context.Context) (int, error) {
	userIDs, err := c.loader.ActiveUserIDs(ctx, c.opts.WarmUpBatch)
	if err != nil {
		return 0, err
	}
	for _, id := range userIDs {
		c.WarmUpUser(ctx, id)
	}
	logger.Info("perm: 活跃用户预热完成", zap.Int("count", len(userIDs)))
	return len(userIDs), nil
}
