package perm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/pkg/cacheguard"
	"github.com/IvanFan-sky/sky-admin/pkg/dal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader 可变授权图，记录每个查询的调用次数
type fakeLoader struct {
	mu          sync.Mutex
	roles       map[int64][]model.Role
	perms       map[int64][]model.Permission
	menus       map[int64][]*model.Menu
	usersByRole map[int64][]int64
	rolesByPerm map[int64][]int64
	rolesByMenu map[int64][]int64
	active      []int64
	calls       map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		roles:       make(map[int64][]model.Role),
		perms:       make(map[int64][]model.Permission),
		menus:       make(map[int64][]*model.Menu),
		usersByRole: make(map[int64][]int64),
		rolesByPerm: make(map[int64][]int64),
		rolesByMenu: make(map[int64][]int64),
		calls:       make(map[string]int),
	}
}

func (f *fakeLoader) count(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
}

func (f *fakeLoader) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeLoader) RolesByUser(ctx context.Context, userID int64) ([]model.Role, error) {
	f.count(fmt.Sprintf("roles:%d", userID))
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Role{}, f.roles[userID]...), nil
}

func (f *fakeLoader) PermissionsByUser(ctx context.Context, userID int64) ([]model.Permission, error) {
	f.count(fmt.Sprintf("perms:%d", userID))
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Permission{}, f.perms[userID]...), nil
}

func (f *fakeLoader) MenusByUser(ctx context.Context, userID int64) ([]*model.Menu, error) {
	f.count(fmt.Sprintf("menus:%d", userID))
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Menu{}, f.menus[userID]...), nil
}

func (f *fakeLoader) PermissionsByRole(ctx context.Context, roleID int64) ([]model.Permission, error) {
	return []model.Permission{}, nil
}

func (f *fakeLoader) MenusByRole(ctx context.Context, roleID int64) ([]*model.Menu, error) {
	return []*model.Menu{}, nil
}

func (f *fakeLoader) UserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	f.count(fmt.Sprintf("usersByRole:%d", roleID))
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.usersByRole[roleID]...), nil
}

func (f *fakeLoader) RoleIDsByPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.rolesByPerm[permissionID]...), nil
}

func (f *fakeLoader) RoleIDsByMenu(ctx context.Context, menuID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.rolesByMenu[menuID]...), nil
}

func (f *fakeLoader) ActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.active) {
		return append([]int64{}, f.active[:limit]...), nil
	}
	return append([]int64{}, f.active...), nil
}

func newTestCache(t *testing.T, loader *fakeLoader, strategy Strategy) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	guard := cacheguard.New(client, cacheguard.Options{
		NullTTL:  time.Minute,
		LockTTL:  10 * time.Second,
		LockWait: 50 * time.Millisecond,
	})
	return NewCache(guard, loader, Options{
		BaseTTL:  30 * time.Minute,
		Strategy: strategy,
	})
}

func TestEmptyPermissionSetCached(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	codes, err := cache.GetPermissionCodes(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, codes)
	assert.Empty(t, codes)

	codes, err = cache.GetPermissionCodes(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.Equal(t, 1, loader.callCount("perms:42"), "确认为空也要缓存，第二次不回源")
}

func TestHasPermissionRevocationScenario(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	// U 持有 editor，editor 授予 doc:write
	loader.roles[1] = []model.Role{{Code: "editor"}}
	loader.perms[1] = []model.Permission{{Code: "doc:write"}}

	ok, err := cache.HasPermission(ctx, 1, "doc:write")
	require.NoError(t, err)
	assert.True(t, ok)

	// 撤销 editor 后失效，再查应为 false
	loader.mu.Lock()
	loader.roles[1] = nil
	loader.perms[1] = nil
	loader.mu.Unlock()

	require.NoError(t, cache.InvalidateUser(ctx, 1))

	ok, err = cache.HasPermission(ctx, 1, "doc:write")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, loader.callCount("perms:1"), "失效后必须重新回源")
}

func TestInvalidateByRoleChange(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	loader.roles[1] = []model.Role{{Code: "editor"}}
	loader.roles[2] = []model.Role{{Code: "editor"}}
	loader.roles[3] = []model.Role{{Code: "viewer"}}
	loader.usersByRole[5] = []int64{1, 2}

	for _, id := range []int64{1, 2, 3} {
		_, err := cache.GetRoleCodes(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, cache.InvalidateByRoleChange(ctx, 5))

	for _, id := range []int64{1, 2, 3} {
		_, err := cache.GetRoleCodes(ctx, id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, loader.callCount("roles:1"), "持有者1应重新回源")
	assert.Equal(t, 2, loader.callCount("roles:2"), "持有者2应重新回源")
	assert.Equal(t, 1, loader.callCount("roles:3"), "未持有者不受影响")
}

func TestInvalidateUserIdempotent(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	_, err := cache.GetRoleCodes(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateUser(ctx, 1))
	require.NoError(t, cache.InvalidateUser(ctx, 1), "重复失效应为无害空操作")
}

func TestInvalidateByPermissionChangeCoarse(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	loader.perms[1] = []model.Permission{{Code: "a"}}
	loader.perms[2] = []model.Permission{{Code: "b"}}

	_, err := cache.GetPermissionCodes(ctx, 1)
	require.NoError(t, err)
	_, err = cache.GetPermissionCodes(ctx, 2)
	require.NoError(t, err)

	// 粗粒度：所有用户全部失效
	require.NoError(t, cache.InvalidateByPermissionChange(ctx, 7))

	_, err = cache.GetPermissionCodes(ctx, 1)
	require.NoError(t, err)
	_, err = cache.GetPermissionCodes(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, loader.callCount("perms:1"))
	assert.Equal(t, 2, loader.callCount("perms:2"))
}

func TestInvalidateByPermissionChangeFanout(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyFanout)
	ctx := context.Background()

	loader.perms[1] = []model.Permission{{Code: "a"}}
	loader.perms[2] = []model.Permission{{Code: "b"}}
	// 权限7 → 角色5 → 用户1；用户2不受影响
	loader.rolesByPerm[7] = []int64{5}
	loader.usersByRole[5] = []int64{1}

	_, err := cache.GetPermissionCodes(ctx, 1)
	require.NoError(t, err)
	_, err = cache.GetPermissionCodes(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateByPermissionChange(ctx, 7))

	_, err = cache.GetPermissionCodes(ctx, 1)
	require.NoError(t, err)
	_, err = cache.GetPermissionCodes(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, loader.callCount("perms:1"), "受影响用户重新回源")
	assert.Equal(t, 1, loader.callCount("perms:2"), "无关用户继续命中缓存")
}

func TestGetMenuTree(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	loader.menus[1] = []*model.Menu{
		{Model: menuModel(1), Name: "系统", Path: "/system", Sort: 1},
		{Model: menuModel(2), ParentID: 1, Name: "文档", Path: "/system/docs", Sort: 1},
		{Model: menuModel(3), ParentID: 3, Name: "坏数据", Sort: 1}, // 自引用，应被丢弃
	}

	roots, err := cache.GetMenuTree(ctx, 1)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "系统", roots[0].Name)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "文档", roots[0].Children[0].Name)

	// 第二次命中缓存，树结构经序列化往返保持不变
	roots, err = cache.GetMenuTree(ctx, 1)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, 1, loader.callCount("menus:1"))
}

func TestHasPathAccess(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	loader.perms[1] = []model.Permission{
		{Code: "doc:write", Path: "/api/v1/docs", Method: "post"},
	}
	loader.menus[1] = []*model.Menu{
		{Model: menuModel(1), Name: "文档", Path: "/system/docs", Sort: 1},
	}

	ok, err := cache.HasPathAccess(ctx, 1, "/api/v1/docs", "POST")
	require.NoError(t, err)
	assert.True(t, ok, "方法不区分大小写")

	ok, err = cache.HasPathAccess(ctx, 1, "/api/v1/docs", "DELETE")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cache.HasPathAccess(ctx, 1, "/system/docs", "")
	require.NoError(t, err)
	assert.True(t, ok, "method为空时匹配页面路径")
}

func TestDegradeToLoaderWhenCacheDown(t *testing.T) {
	loader := newFakeLoader()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	guard := cacheguard.New(client, cacheguard.Options{NullTTL: time.Minute})
	cache := NewCache(guard, loader, Options{BaseTTL: time.Minute})

	loader.perms[1] = []model.Permission{{Code: "doc:write"}}
	mr.Close()

	// 缓存存储不可达：直查回源返回真实授权，不得捏造允许/拒绝
	codes, err := cache.GetPermissionCodes(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:write"}, codes)
	assert.Equal(t, 1, loader.callCount("perms:1"))

	ok, err := cache.HasPermission(context.Background(), 1, "doc:write")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWarmUpActiveUsers(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(t, loader, StrategyCoarse)
	ctx := context.Background()

	loader.active = []int64{1, 2}
	loader.roles[1] = []model.Role{{Code: "editor"}}

	count, err := cache.WarmUpActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 预热后读取不再回源
	_, err = cache.GetRoleCodes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.callCount("roles:1"))
}

func menuModel(id int64) dal.Model {
	return dal.Model{ID: id}
}
