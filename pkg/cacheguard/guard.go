package cacheguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// nullMarker 空值标记，区分"未缓存"与"确认为空"，同时防止缓存穿透
const nullMarker = "__null__"

// lockPrefix 重建互斥锁key前缀
const lockPrefix = "lock:"

// Options 防护参数
type Options struct {
	TTLJitter time.Duration // TTL随机抖动上限，打散过期时间防止雪崩
	NullTTL   time.Duration // 空值标记TTL，应远小于正常TTL
	LockTTL   time.Duration // 互斥锁TTL，持有者崩溃后自动释放
	LockWait  time.Duration // 未获锁时的固定退避时长
}

// Guard 读穿缓存防护
// 穿透用空值标记抵挡，雪崩用TTL抖动打散，击穿用分布式互斥锁收敛重建；
// 锁竞争超过退避窗口后直接回源兜底（有界延迟优先于严格单飞）
type Guard struct {
	client *redis.Client
	owner  string
	opts   Options
}

// Loader 回源函数，found=false表示数据源确认不存在
type Loader[T any] func(ctx context.Context) (value T, found bool, err error)

// New 创建防护实例
func New(client *redis.Client, opts Options) *Guard {
	if opts.NullTTL <= 0 {
		opts.NullTTL = time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 50 * time.Millisecond
	}
	return &Guard{
		client: client,
		owner:  utils.UUIDWithoutDash(),
		opts:   opts,
	}
}

// Client 获取底层Redis客户端
func (g *Guard) Client() *redis.Client {
	return g.client
}

// jittered 给TTL加随机抖动
func (g *Guard) jittered(ttl time.Duration) time.Duration {
	if g.opts.TTLJitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(g.opts.TTLJitter)))
}

// Fetch 读穿查询（穿透防护版）
// 命中直接返回；命中空值标记返回found=false；未命中回源，
// 存在则以抖动TTL写回，不存在则写入短TTL空值标记。
// 缓存存储不可达时降级为直接回源，只告警不失败。
func Fetch[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, loader Loader[T]) (T, bool, error) {
	var zero T

	raw, err := g.client.Get(ctx, key).Result()
	if err == nil {
		if raw == nullMarker {
			return zero, false, nil
		}
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr == nil {
			return v, true, nil
		}
		// 反序列化失败视为未命中，走回源覆盖
		logger.Warn("cacheguard: 缓存值损坏，回源重建", zap.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		// 缓存不可达：降级直查，不写回
		logger.Warn("cacheguard: 缓存不可达，降级直查", zap.String("key", key), zap.Error(err))
		return loader(ctx)
	}

	value, found, err := loader(ctx)
	if err != nil {
		return zero, false, err
	}

	if !found {
		if serr := g.client.Set(ctx, key, nullMarker, g.opts.NullTTL).Err(); serr != nil {
			logger.Warn("cacheguard: 空值标记写入失败", zap.String("key", key), zap.Error(serr))
		}
		return zero, false, nil
	}

	if serr := g.store(ctx, key, value, g.jittered(ttl)); serr != nil {
		logger.Warn("cacheguard: 缓存写入失败", zap.String("key", key), zap.Error(serr))
	}
	return value, true, nil
}

// FetchWithMutex 读穿查询（互斥重建版）
// 未命中时先抢分布式锁再回源，抢到锁后二次检查缓存；
// 未抢到锁则退避一次后重查，仍未命中时直接回源兜底——
// 尽力单飞而非严格单飞，换取有界的最坏延迟。
func FetchWithMutex[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, loader Loader[T]) (T, bool, error) {
	var zero T

	if v, found, err, hit := lookup[T](ctx, g, key); hit {
		return v, found, err
	}

	lockKey := lockPrefix + key
	lockVal := fmt.Sprintf("%s:%d", g.owner, time.Now().UnixNano())

	acquired, err := g.client.SetNX(ctx, lockKey, lockVal, g.opts.LockTTL).Result()
	if err != nil {
		// 锁服务不可达等同缓存不可达：降级直查
		logger.Warn("cacheguard: 互斥锁不可用，降级直查", zap.String("key", key), zap.Error(err))
		return loader(ctx)
	}

	if acquired {
		// 短TTL兜底崩溃泄漏，正常路径无条件释放
		defer func() {
			if derr := g.client.Del(context.WithoutCancel(ctx), lockKey).Err(); derr != nil {
				logger.Warn("cacheguard: 互斥锁释放失败", zap.String("key", key), zap.Error(derr))
			}
		}()

		// 双重检查：并发持有者可能刚完成重建
		if v, found, err, hit := lookup[T](ctx, g, key); hit {
			return v, found, err
		}
		return loadAndStore(ctx, g, key, ttl, loader)
	}

	// 锁被他人持有：退避一次后重查
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case <-time.After(g.opts.LockWait):
	}

	if v, found, err, hit := lookup[T](ctx, g, key); hit {
		return v, found, err
	}

	// 兜底直查：放弃等待，接受偶发的重复回源
	logger.Debug("cacheguard: 锁等待超时，直接回源", zap.String("key", key))
	return loadAndStore(ctx, g, key, ttl, loader)
}

// lookup 查缓存，hit=false表示未命中需回源
func lookup[T any](ctx context.Context, g *Guard, key string) (value T, found bool, err error, hit bool) {
	var zero T

	raw, gerr := g.client.Get(ctx, key).Result()
	if gerr != nil {
		if errors.Is(gerr, redis.Nil) {
			return zero, false, nil, false
		}
		return zero, false, nil, false
	}
	if raw == nullMarker {
		return zero, false, nil, true
	}
	var v T
	if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
		return zero, false, nil, false
	}
	return v, true, nil, true
}

// loadAndStore 回源并写回
func loadAndStore[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, loader Loader[T]) (T, bool, error) {
	var zero T

	value, found, err := loader(ctx)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if serr := g.client.Set(ctx, key, nullMarker, g.opts.NullTTL).Err(); serr != nil {
			logger.Warn("cacheguard: 空值标记写入失败", zap.String("key", key), zap.Error(serr))
		}
		return zero, false, nil
	}
	if serr := g.store(ctx, key, value, g.jittered(ttl)); serr != nil {
		logger.Warn("cacheguard: 缓存写入失败", zap.String("key", key), zap.Error(serr))
	}
	return value, true, nil
}

// store 序列化并写入
func (g *Guard) store(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return g.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate 删除缓存项，key不存在时为无害空操作
func (g *Guard) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

// InvalidateByPrefix 按前缀批量删除，SCAN遍历避免阻塞
func (g *Guard) InvalidateByPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	iter := g.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := g.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, iter.Err()
}

// WarmUp 批量预热，单个key失败只记录不中断，每个key独立抖动TTL
func WarmUp[T any](ctx context.Context, g *Guard, keys []string, baseTTL time.Duration, loader func(ctx context.Context, key string) (T, bool, error)) int {
	populated := 0
	for _, key := range keys {
		value, found, err := loader(ctx, key)
		if err != nil {
			logger.Warn("cacheguard: 预热回源失败", zap.String("key", key), zap.Error(err))
			continue
		}
		if !found {
			if serr := g.client.Set(ctx, key, nullMarker, g.opts.NullTTL).Err(); serr != nil {
				logger.Warn("cacheguard: 预热空值标记写入失败", zap.String("key", key), zap.Error(serr))
			}
			continue
		}
		if serr := g.store(ctx, key, value, g.jittered(baseTTL)); serr != nil {
			logger.Warn("cacheguard: 预热写入失败", zap.String("key", key), zap.Error(serr))
			continue
		}
		populated++
	}
	return populated
}
