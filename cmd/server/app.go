package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/database"
	applogger "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/logger"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/natsx"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/redis"
)

// app 各子命令共享的已初始化依赖
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	rdb     *redis.Client
	nc      *nats.Conn
	repo    *repository.Repository
	core    *assignment.Core
	metrics http.Handler
}

// bootstrap 加载配置、初始化日志并按配置连接存储后端
func bootstrap(ctx context.Context) (*app, error) {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.openBackends(ctx); err != nil {
		a.close()
		return nil, err
	}

	// 3. 指标（未启用时使用空实现）
	var m metrics.Collector = metrics.NewNop()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		pm, err := metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("注册指标失败: %w", err)
		}
		m = pm
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	// 4. 组装核心
	core, err := assignment.NewCore(cfg, a.repo.Items, a.repo.Index, logger, m)
	if err != nil {
		a.close()
		return nil, err
	}
	a.core = core
	return a, nil
}

// openBackends 条目存储与分配索引可以分别选择后端
func (a *app) openBackends(ctx context.Context) error {
	cfg := a.cfg
	a.repo = &repository.Repository{}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := a.postgres()
		if err != nil {
			return err
		}
		a.repo.Items = repository.NewGormItemStore(db)
	case config.BackendNATS:
		nc, kv, err := natsx.Connect(ctx, &cfg.NATS, a.logger)
		if err != nil {
			return err
		}
		a.nc = nc
		a.repo.Items = repository.NewKVItemStore(kv, a.logger)
	case config.BackendMemory:
		a.logger.Warn("条目存储使用内存后端，重启后数据丢失")
		a.repo.Items = repository.NewMemoryItemStore()
	}

	switch cfg.Index.Backend {
	case config.BackendPostgres:
		db, err := a.postgres()
		if err != nil {
			return err
		}
		a.repo.Index = repository.NewGormIndexStore(db)
	case "redis":
		rdb, err := redis.NewClient(&cfg.Redis, a.logger)
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.repo.Index = repository.NewRedisIndexStore(rdb)
	case config.BackendMemory:
		a.repo.Index = repository.NewMemoryIndexStore()
	}

	a.logger.Info("存储后端已连接",
		zap.String("store", cfg.Store.Backend),
		zap.String("capability", cfg.Store.Capability),
		zap.String("index", cfg.Index.Backend),
	)
	return nil
}

// postgres 首次调用时连接数据库并执行迁移
func (a *app) postgres() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewDB(&a.cfg.Database, a.cfg.Log.Level, a.logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	if err := database.RunMigrations(sqlDB, a.logger); err != nil {
		return nil, err
	}
	return db, nil
}

// connectRateLimiter 限流使用的 Redis 可选：连接失败时降级运行
func (a *app) connectRateLimiter() {
	if a.rdb != nil {
		return
	}
	rdb, err := redis.NewClient(&a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.Warn("Redis 连接失败，自助领取限流将不可用", zap.Error(err))
		return
	}
	a.rdb = rdb
}

// systemActor 命令行操作以首个特权角色执行
func (a *app) systemActor() assignment.Actor {
	return assignment.Actor{
		UserID: "system",
		Roles:  assignment.NewRoleSet(a.cfg.Assignment.TakeoverRoles...),
	}
}

func (a *app) close() {
	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
