package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// Guard 所有持有人相关写入的唯一入口
// 不做任何重试：同一旧令牌的两个写入者恰有一个成功，另一个得到 ConflictError
type Guard struct {
	repo    Repository
	metrics metrics.Collector
	now     func() time.Time
}

func NewGuard(repo Repository, m metrics.Collector) *Guard {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Guard{repo: repo, metrics: m, now: time.Now}
}

// Read 读取条目及其当前令牌
func (g *Guard) Read(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	return g.repo.Get(ctx, key)
}

// Write 以 expectedETag 为条件提交变更
// 写入时间统一为 UTC 微秒精度，保证索引记录与文档中的 assignedAt 可精确比较
func (g *Guard) Write(ctx context.Context, key model.ItemKey, expectedETag string, m Mutation) (*model.WorkItem, error) {
	if m.IsEmpty() {
		return nil, ErrEmptyMutation
	}
	if m.At.IsZero() {
		m.At = g.now()
	}
	m.At = m.At.UTC().Truncate(time.Microsecond)

	start := time.Now()
	item, err := g.repo.Write(ctx, key, expectedETag, m)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		g.metrics.RecordWrite(g.repo.Strategy(), metrics.OutcomeOK, elapsed)
		return item, nil
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		g.metrics.RecordWrite(g.repo.Strategy(), metrics.OutcomeConflict, elapsed)
		return nil, &ConflictError{Key: key, ExpectedETag: expectedETag}
	default:
		g.metrics.RecordWrite(g.repo.Strategy(), metrics.OutcomeError, elapsed)
		return nil, err
	}
}
