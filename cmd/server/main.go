package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/IvanFan-sky/sky-admin/internal/authz"
	"github.com/IvanFan-sky/sky-admin/internal/handler"
	"github.com/IvanFan-sky/sky-admin/internal/model"
	"github.com/IvanFan-sky/sky-admin/internal/perm"
	"github.com/IvanFan-sky/sky-admin/internal/rbac"
	"github.com/IvanFan-sky/sky-admin/pkg/auth"
	"github.com/IvanFan-sky/sky-admin/pkg/cacheguard"
	"github.com/IvanFan-sky/sky-admin/pkg/config"
	"github.com/IvanFan-sky/sky-admin/pkg/database"
	"github.com/IvanFan-sky/sky-admin/pkg/logger"
	"github.com/IvanFan-sky/sky-admin/pkg/middleware"
	"github.com/IvanFan-sky/sky-admin/pkg/ratelimit"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	if err := config.Init(""); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 初始化数据库
	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&model.User{}, &model.Role{}, &model.Permission{}, &model.Menu{},
		&model.UserRole{}, &model.RolePermission{}, &model.RoleMenu{},
	); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 初始化Redis（memory模式内嵌miniredis）
	if err := database.InitRedis(&cfg.Redis); err != nil {
		logger.Fatal("初始化Redis失败", zap.Error(err))
	}
	defer database.CloseRedis()

	// 权限缓存链路：图读取器 → 防护层 → 视图缓存
	loader := rbac.NewGormLoader(database.Get())
	guard := cacheguard.New(database.GetRedis(), cacheguard.Options{
		TTLJitter: cfg.Cache.JitterTTL(),
		NullTTL:   cfg.Cache.NullMarkerTTL(),
		LockTTL:   cfg.Cache.MutexTTL(),
		LockWait:  cfg.Cache.LockWait(),
	})
	permCache := perm.NewCache(guard, loader, perm.Options{
		BaseTTL:     cfg.Cache.BaseTTL(),
		Strategy:    perm.Strategy(cfg.Cache.Strategy),
		WarmUpBatch: cfg.Cache.WarmUpBatch,
	})
	enforcer := authz.NewEnforcer(permCache)

	// 限流器：默认进程内桶，distributed时切换为Redis令牌桶
	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter()
	if cfg.RateLimit.Distributed {
		limiter = ratelimit.NewRedisLimiter(database.GetRedis())
	}

	jwtManager := auth.NewJWTManager(&cfg.JWT)
	jwtMiddleware := middleware.JWTAuth(jwtManager)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	app.Use(middleware.Recovery())
	app.Use(middleware.Cors())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog())

	if cfg.RateLimit.Enabled {
		app.Use(ratelimit.Middleware(limiter, ratelimit.Rule{
			Key:          "api",
			Capacity:     cfg.RateLimit.Capacity,
			RefillPeriod: time.Duration(cfg.RateLimit.RefillEvery) * time.Second,
			Scope:        ratelimit.ScopePerIP,
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(200).JSON(fiber.Map{
			"status":  "healthy",
			"service": cfg.App.Name,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	api := app.Group("/api/v1")
	adminCtrl := handler.NewController(database.Get(), permCache, enforcer)
	adminCtrl.RegisterRoutes(api, jwtMiddleware)

	// 活跃用户预热，不阻塞启动
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := permCache.WarmUpActiveUsers(ctx); err != nil {
			logger.Warn("活跃用户预热失败", zap.Error(err))
		}
	}()

	// 启动与优雅停机
	go func() {
		logger.Info("服务启动", zap.String("addr", cfg.Server.Addr()))
		if err := app.Listen(cfg.Server.Addr()); err != nil {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务停止中...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("服务停止异常", zap.Error(err))
	}
	logger.Info("服务已停止")
}
