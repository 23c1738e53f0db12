package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// Mutation 一次条件写入要变更的字段
type Mutation = model.Patch

// Repository 屏蔽存储写入能力差异的统一接口
// 写入策略在构造时确定，运行期间不再按请求分支
type Repository interface {
	Strategy() string
	Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error)
	// Write 令牌不匹配时返回 pkgerrors.ErrOptimisticLock
	Write(ctx context.Context, key model.ItemKey, expectedETag string, m Mutation) (*model.WorkItem, error)
	Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error)
	ListCandidates(ctx context.Context, q repository.CandidateQuery) ([]model.WorkItem, error)
	ListDatasets(ctx context.Context) ([]string, error)
	ListHeld(ctx context.Context) ([]model.WorkItem, error)
	CountHeldBy(ctx context.Context, userID string) (int, error)
}

// RetryPolicy 瞬时故障的指数退避参数
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

// NewRepository 按存储能力选择写入策略
// 要求 conditional_patch 但存储未实现 PatchStore 时返回错误，不做降级
func NewRepository(store repository.ItemStore, capability string, retry RetryPolicy, m metrics.Collector) (Repository, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 1
	}
	b := storeBase{store: store, retry: retry, metrics: m}

	switch capability {
	case config.CapabilityConditionalPatch:
		patcher, ok := store.(repository.PatchStore)
		if !ok {
			return nil, fmt.Errorf("存储 %T 不支持字段级条件更新，请使用 %s", store, config.CapabilityReadModifyReplace)
		}
		return &ConditionalPatchStore{storeBase: b, patcher: patcher}, nil
	case config.CapabilityReadModifyReplace:
		return &ReadModifyReplaceStore{storeBase: b}, nil
	default:
		return nil, fmt.Errorf("未知的存储写入能力: %q", capability)
	}
}

// ── 公共读取路径 ──

type storeBase struct {
	store   repository.ItemStore
	retry   RetryPolicy
	metrics metrics.Collector
}

// withRetry 仅重试瞬时错误，冲突与不存在立即返回；重试耗尽包装为 TransientStoreError
func withRetry[T any](ctx context.Context, b *storeBase, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	eb := backoff.NewExponentialBackOff()
	if b.retry.InitialInterval > 0 {
		eb.InitialInterval = b.retry.InitialInterval
	}
	if b.retry.MaxInterval > 0 {
		eb.MaxInterval = b.retry.MaxInterval
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		if attempts > 1 {
			b.metrics.RecordRetry(op)
		}
		v, err := fn()
		if err == nil || errors.Is(err, pkgerrors.ErrTransient) {
			return v, err
		}
		return v, backoff.Permanent(err)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(b.retry.MaxAttempts))

	if err != nil && errors.Is(err, pkgerrors.ErrTransient) {
		return res, &TransientStoreError{Op: op, Attempts: attempts, Err: err}
	}
	return res, err
}

func (b *storeBase) Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	return withRetry(ctx, b, "get", func() (*model.WorkItem, error) {
		return b.store.Get(ctx, key)
	})
}

func (b *storeBase) Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error) {
	return withRetry(ctx, b, "create", func() (*model.WorkItem, error) {
		return b.store.Create(ctx, item)
	})
}

func (b *storeBase) ListCandidates(ctx context.Context, q repository.CandidateQuery) ([]model.WorkItem, error) {
	return withRetry(ctx, b, "list_candidates", func() ([]model.WorkItem, error) {
		return b.store.ListCandidates(ctx, q)
	})
}

func (b *storeBase) ListDatasets(ctx context.Context) ([]string, error) {
	return withRetry(ctx, b, "list_datasets", func() ([]string, error) {
		return b.store.ListDatasets(ctx)
	})
}

func (b *storeBase) ListHeld(ctx context.Context) ([]model.WorkItem, error) {
	return withRetry(ctx, b, "list_held", func() ([]model.WorkItem, error) {
		return b.store.ListHeld(ctx)
	})
}

func (b *storeBase) CountHeldBy(ctx context.Context, userID string) (int, error) {
	return withRetry(ctx, b, "count_held", func() (int, error) {
		return b.store.CountHeldBy(ctx, userID)
	})
}

// ── 策略一：字段级条件更新 ──

// ConditionalPatchStore 一次 PatchIfMatch 调用完成写入
type ConditionalPatchStore struct {
	storeBase
	patcher repository.PatchStore
}

func (s *ConditionalPatchStore) Strategy() string { return config.CapabilityConditionalPatch }

func (s *ConditionalPatchStore) Write(ctx context.Context, key model.ItemKey, expectedETag string, m Mutation) (*model.WorkItem, error) {
	return withRetry(ctx, &s.storeBase, "patch", func() (*model.WorkItem, error) {
		return s.patcher.PatchIfMatch(ctx, key, expectedETag, m)
	})
}

// ── 策略二：读取-修改-整体替换 ──

// ReadModifyReplaceStore 读取当前文档，令牌一致时在副本上应用变更并条件替换
// 替换本身仍以读取时的令牌为条件，读与写之间的并发修改会被存储拒绝
type ReadModifyReplaceStore struct {
	storeBase
}

func (s *ReadModifyReplaceStore) Strategy() string { return config.CapabilityReadModifyReplace }

func (s *ReadModifyReplaceStore) Write(ctx context.Context, key model.ItemKey, expectedETag string, m Mutation) (*model.WorkItem, error) {
	return withRetry(ctx, &s.storeBase, "replace", func() (*model.WorkItem, error) {
		cur, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				return nil, pkgerrors.ErrOptimisticLock
			}
			return nil, err
		}
		if cur.ETag != expectedETag {
			return nil, pkgerrors.ErrOptimisticLock
		}
		next := cur.Clone()
		m.Apply(next)
		return s.store.ReplaceIfMatch(ctx, next, expectedETag)
	})
}
