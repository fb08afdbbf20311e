package authz

import (
	"context"
	"testing"
	"time"

	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/internal/perm"
	"github.com/IvanFan-sky/sky-admin/pkg/cacheguard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLoader 固定授权图：
// 用户1 editor + doc:read；用户2 super_admin；用户3 无授权
type stubLoader struct{}

func (stubLoader) RolesByUser(ctx context.Context, userID int64) ([]model.Role, error) {
	switch userID {
	case 1:
		return []model.Role{{Code: "editor"}}, nil
	case 2:
		return []model.Role{{Code: SuperAdminRole}}, nil
	}
	return []model.Role{}, nil
}

func (stubLoader) PermissionsByUser(ctx context.Context, userID int64) ([]model.Permission, error) {
	if userID == 1 {
		return []model.Permission{{Code: "doc:read"}}, nil
	}
	return []model.Permission{}, nil
}

func (stubLoader) MenusByUser(ctx context.Context, userID int64) ([]*model.Menu, error) {
	return []*model.Menu{}, nil
}

func (stubLoader) PermissionsByRole(ctx context.Context, roleID int64) ([]model.Permission, error) {
	return []model.Permission{}, nil
}

func (stubLoader) MenusByRole(ctx context.Context, roleID int64) ([]*model.Menu, error) {
	return []*model.Menu{}, nil
}

func (stubLoader) UserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	return []int64{}, nil
}

func (stubLoader) RoleIDsByPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	return []int64{}, nil
}

func (stubLoader) RoleIDsByMenu(ctx context.Context, menuID int64) ([]int64, error) {
	return []int64{}, nil
}

func (stubLoader) ActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	return []int64{}, nil
}

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	guard := cacheguard.New(client, cacheguard.Options{NullTTL: time.Minute})
	cache := perm.NewCache(guard, stubLoader{}, perm.Options{BaseTTL: time.Minute})
	return NewEnforcer(cache)
}

func TestAllowedEmptyPolicy(t *testing.T) {
	e := newTestEnforcer(t)

	ok, err := e.Allowed(context.Background(), 3, Policy{})
	require.NoError(t, err)
	assert.True(t, ok, "无任何要求视为放行")
}

func TestAllowedAndLogic(t *testing.T) {
	e := newTestEnforcer(t)
	ctx := context.Background()

	ok, err := e.Allowed(ctx, 1, Policy{Permissions: []string{"doc:read"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Allowed(ctx, 1, Policy{Permissions: []string{"doc:read", "doc:write"}})
	require.NoError(t, err)
	assert.False(t, ok, "AND要求全部满足")

	ok, err = e.Allowed(ctx, 1, Policy{Permissions: []string{"doc:read"}, Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.False(t, ok, "AND同时要求角色")
}

func TestAllowedOrLogic(t *testing.T) {
	e := newTestEnforcer(t)
	ctx := context.Background()

	ok, err := e.Allowed(ctx, 1, Policy{
		Permissions: []string{"doc:write", "doc:read"},
		Logic:       LogicOr,
	})
	require.NoError(t, err)
	assert.True(t, ok, "OR任一满足即可")

	ok, err = e.Allowed(ctx, 1, Policy{
		Permissions: []string{"doc:write"},
		Roles:       []string{"editor"},
		Logic:       LogicOr,
	})
	require.NoError(t, err)
	assert.True(t, ok, "OR跨权限与角色")

	ok, err = e.Allowed(ctx, 3, Policy{
		Permissions: []string{"doc:write"},
		Roles:       []string{"editor"},
		Logic:       LogicOr,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowedSuperAdminBypass(t *testing.T) {
	e := newTestEnforcer(t)
	ctx := context.Background()

	policy := Policy{Permissions: []string{"doc:write"}, AllowSuperAdmin: true}

	ok, err := e.Allowed(ctx, 2, policy)
	require.NoError(t, err)
	assert.True(t, ok, "超级管理员直接放行")

	ok, err = e.Allowed(ctx, 1, policy)
	require.NoError(t, err)
	assert.False(t, ok, "非超管仍按策略评估")

	// 未开启bypass时超管也要过策略
	ok, err = e.Allowed(ctx, 2, Policy{Permissions: []string{"doc:write"}})
	require.NoError(t, err)
	assert.False(t, ok)
}
