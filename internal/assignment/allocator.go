package assignment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
)

// AllocatorConfig 自助领取参数
type AllocatorConfig struct {
	OvershootFactor   int
	CandidatePoolSize int
	MaxBatchSize      int
	MaxRefills        int
	// MaxActivePerUser 用户同时持有的上限，0 为不限
	MaxActivePerUser int
}

func AllocatorConfigFrom(cfg config.AssignmentConfig) AllocatorConfig {
	return AllocatorConfig{
		OvershootFactor:   cfg.OvershootFactor,
		CandidatePoolSize: cfg.CandidatePoolSize,
		MaxBatchSize:      cfg.MaxBatchSize,
		MaxRefills:        cfg.MaxRefills,
		MaxActivePerUser:  cfg.MaxActivePerUser,
	}
}

// DefaultWeighting 配置了 dataset_weights 时按比例，否则在数据集间均分
func DefaultWeighting(cfg config.AssignmentConfig) WeightingStrategy {
	if len(cfg.DatasetWeights) == 0 {
		return UniformWeighting{}
	}
	return RatioWeighting{Weights: cfg.DatasetWeights, Default: 1}
}

// SelfServeResult 一次自助领取的结果；数量不足不是错误
type SelfServeResult struct {
	Claimed    []model.WorkItem
	Requested  int
	Attempts   int
	Collisions int
}

// Allocator 并发自助领取：超额抽取候选、打乱顺序、逐个条件写入
type Allocator struct {
	repo      Repository
	guard     *Guard
	resolver  *Resolver
	index     *Index
	weighting WeightingStrategy
	cfg       AllocatorConfig
	logger    *zap.Logger
	metrics   metrics.Collector
	shuffle   func(n int, swap func(i, j int))
}

func NewAllocator(repo Repository, guard *Guard, resolver *Resolver, index *Index, weighting WeightingStrategy, cfg AllocatorConfig, logger *zap.Logger, m metrics.Collector) *Allocator {
	if weighting == nil {
		weighting = UniformWeighting{}
	}
	if cfg.OvershootFactor < 1 {
		cfg.OvershootFactor = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Allocator{
		repo:      repo,
		guard:     guard,
		resolver:  resolver,
		index:     index,
		weighting: weighting,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		shuffle:   rand.Shuffle,
	}
}

// SelfServe 为 userID 领取至多 requested 个未分配草稿条目
// weights 非空时按其比例在数据集间分配候选，否则使用默认策略
// ctx 取消后停止后续尝试，已提交的领取照常返回
func (a *Allocator) SelfServe(ctx context.Context, userID string, requested int, weights map[string]float64) (*SelfServeResult, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if requested <= 0 {
		return nil, ErrInvalidCount
	}
	for _, w := range weights {
		if w < 0 {
			return nil, ErrInvalidWeights
		}
	}

	result := &SelfServeResult{Requested: requested, Claimed: []model.WorkItem{}}
	target := requested
	if a.cfg.MaxBatchSize > 0 && target > a.cfg.MaxBatchSize {
		target = a.cfg.MaxBatchSize
	}
	if a.cfg.MaxActivePerUser > 0 {
		held, err := a.repo.CountHeldBy(ctx, userID)
		if err != nil {
			return nil, err
		}
		if headroom := a.cfg.MaxActivePerUser - held; headroom < target {
			target = max(headroom, 0)
		}
	}
	if target == 0 {
		return result, nil
	}

	strategy := a.weighting
	if len(weights) > 0 {
		strategy = RatioWeighting{Weights: weights}
	}

	tried := make(map[model.ItemKey]struct{})
	for round := 0; round <= a.cfg.MaxRefills; round++ {
		need := target - len(result.Claimed)
		pool, err := a.candidatePool(ctx, strategy, need, tried)
		if err != nil {
			if len(result.Claimed) > 0 {
				a.logger.Warn("补充候选失败，返回已领取的条目", zap.String("user", userID), zap.Error(err))
				break
			}
			return nil, err
		}
		if len(pool) == 0 {
			break
		}

		collisionsBefore := result.Collisions
		stop, err := a.attempt(ctx, userID, target, pool, tried, result)
		if err != nil {
			return nil, err
		}
		// 只有本轮发生碰撞且仍有缺口时才补充候选
		if stop || len(result.Claimed) >= target || result.Collisions == collisionsBefore {
			break
		}
	}

	a.metrics.RecordSelfServe(requested, len(result.Claimed), result.Collisions)
	a.logger.Info("自助领取完成",
		zap.String("user", userID),
		zap.Int("requested", requested),
		zap.Int("claimed", len(result.Claimed)),
		zap.Int("attempts", result.Attempts),
		zap.Int("collisions", result.Collisions),
	)
	return result, nil
}

// candidatePool 按权重从各数据集抽取 need × overshoot 个候选并打乱
// 数据集候选不足其名额时，缺口按同一策略转给仍有余量的数据集
func (a *Allocator) candidatePool(ctx context.Context, strategy WeightingStrategy, need int, tried map[model.ItemKey]struct{}) ([]model.WorkItem, error) {
	size := need * a.cfg.OvershootFactor
	if a.cfg.CandidatePoolSize > 0 && size > a.cfg.CandidatePoolSize {
		size = max(a.cfg.CandidatePoolSize, need)
	}

	datasets, err := a.repo.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}

	var pool []model.WorkItem
	seen := make(map[model.ItemKey]struct{})
	fetched := make(map[string]int)
	quotas := strategy.Quotas(datasets, size)

	// 轮数以数据集个数为上限
	for pass := 0; pass <= len(datasets) && len(quotas) > 0; pass++ {
		names := make([]string, 0, len(quotas))
		for ds := range quotas {
			names = append(names, ds)
		}
		sort.Strings(names)

		var open []string
		for _, ds := range names {
			limit := fetched[ds] + quotas[ds]
			items, err := a.repo.ListCandidates(ctx, repository.CandidateQuery{Dataset: ds, Limit: limit})
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				k := it.Key()
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				fetched[ds]++
				if _, done := tried[k]; !done {
					pool = append(pool, it)
				}
			}
			if len(items) >= limit {
				open = append(open, ds)
			}
		}

		gap := size - len(pool)
		if gap <= 0 || len(open) == 0 {
			break
		}
		quotas = strategy.Quotas(open, gap)
	}

	a.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool, nil
}

// attempt 依次对候选发起领取写入；返回 stop=true 表示应结束整个请求
func (a *Allocator) attempt(ctx context.Context, userID string, target int, pool []model.WorkItem, tried map[model.ItemKey]struct{}, result *SelfServeResult) (bool, error) {
	for i := range pool {
		if len(result.Claimed) >= target {
			return true, nil
		}
		if ctx.Err() != nil {
			return true, nil
		}
		cand := &pool[i]
		key := cand.Key()
		tried[key] = struct{}{}
		result.Attempts++

		item, err := a.guard.Write(ctx, key, cand.ETag, model.ClaimPatch(userID, a.guard.now()))
		if err == nil {
			a.claimed(ctx, item, result)
			continue
		}

		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			cls, cerr := a.resolver.Classify(ctx, conflict, userID)
			if cerr != nil {
				result.Collisions++
				a.logger.Warn("冲突分类失败，跳过候选", zap.String("item", key.String()), zap.Error(cerr))
				continue
			}
			if cls.Kind == KindStaleWrite && cls.Reason == StaleSelf {
				// 重试的写入已经落盘
				a.claimed(ctx, cls.Current, result)
				continue
			}
			result.Collisions++
		case ctx.Err() != nil:
			return true, nil
		case errors.Is(err, ErrTransientStore):
			if len(result.Claimed) == 0 {
				return true, err
			}
			a.logger.Warn("存储暂时不可用，停止领取", zap.String("user", userID), zap.Error(err))
			return true, nil
		default:
			a.logger.Error("领取写入失败", zap.String("item", key.String()), zap.Error(err))
			if len(result.Claimed) == 0 {
				return true, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (a *Allocator) claimed(ctx context.Context, item *model.WorkItem, result *SelfServeResult) {
	result.Claimed = append(result.Claimed, *item)
	a.index.Materialize(ctx, item)
}
