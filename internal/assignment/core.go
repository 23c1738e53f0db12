package assignment

import (
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
)

// Core 组装完成的核心组件
type Core struct {
	Repo       Repository
	Guard      *Guard
	Resolver   *Resolver
	Index      *Index
	Takeover   *TakeoverAuthorizer
	Allocator  *Allocator
	Reconciler *Reconciler
}

// NewCore 按配置选择写入策略并组装全部组件
func NewCore(cfg *config.Config, items repository.ItemStore, index repository.IndexStore, logger *zap.Logger, m metrics.Collector) (*Core, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	repo, err := NewRepository(items, cfg.Store.Capability, RetryPolicyFromConfig(cfg.Store.Retry), m)
	if err != nil {
		return nil, err
	}

	guard := NewGuard(repo, m)
	resolver := NewResolver(repo, logger, m)
	idx := NewIndex(index, cfg.Index.PendingCapacity, logger, m)

	logger.Info("领取核心已初始化",
		zap.String("strategy", repo.Strategy()),
		zap.Strings("takeover_roles", cfg.Assignment.TakeoverRoles),
	)
	return &Core{
		Repo:       repo,
		Guard:      guard,
		Resolver:   resolver,
		Index:      idx,
		Takeover:   NewTakeoverAuthorizer(guard, idx, cfg.Assignment.TakeoverRoles, logger),
		Allocator:  NewAllocator(repo, guard, resolver, idx, DefaultWeighting(cfg.Assignment), AllocatorConfigFrom(cfg.Assignment), logger, m),
		Reconciler: NewReconciler(repo, index, logger, m),
	}, nil
}
