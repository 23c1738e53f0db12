package assignment

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
)

// Index 按用户分区的分配二级索引
// 索引是派生数据：写入失败只记录并进入补偿队列，从不让调用方失败，也从不参与领取判断
type Index struct {
	store   repository.IndexStore
	pending *compensationQueue
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewIndex(store repository.IndexStore, pendingCapacity int, logger *zap.Logger, m metrics.Collector) *Index {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Index{
		store:   store,
		pending: newCompensationQueue(pendingCapacity),
		logger:  logger,
		metrics: m,
	}
}

// Materialize 为被持有的条目写入（或刷新）索引记录
func (x *Index) Materialize(ctx context.Context, item *model.WorkItem) {
	if !item.IsHeld() {
		return
	}
	rec := model.NewAssignmentRecord(item)
	c := compensation{kind: actionPut, rec: rec, userID: rec.UserID, key: rec.ItemKey()}
	x.apply(ctx, c)
}

// Retire 删除用户对条目的索引记录
func (x *Index) Retire(ctx context.Context, userID string, key model.ItemKey) {
	if userID == "" {
		return
	}
	x.apply(ctx, compensation{kind: actionDelete, userID: userID, key: key})
}

// ListForUser 用户当前分配列表（可能短暂滞后于条目文档）
func (x *Index) ListForUser(ctx context.Context, userID string) ([]model.AssignmentRecord, error) {
	return x.store.ListByUser(ctx, userID)
}

// Pending 等待重放的补偿动作数
func (x *Index) Pending() int {
	return x.pending.len()
}

func (x *Index) apply(ctx context.Context, c compensation) {
	// 调用方取消不应中断已提交写入对应的索引更新
	ctx = context.WithoutCancel(ctx)
	x.pending.cancel(c.userID, c.key)
	if err := x.exec(ctx, c); err != nil {
		x.enqueue(c, err)
	}
}

func (x *Index) exec(ctx context.Context, c compensation) error {
	if c.kind == actionPut {
		return x.store.Put(ctx, c.rec)
	}
	return x.store.Delete(ctx, c.userID, c.key)
}

func (x *Index) enqueue(c compensation, cause error) {
	c.attempts++
	if c.queuedAt.IsZero() {
		c.queuedAt = time.Now()
	}
	x.metrics.RecordIndexFailure(c.kind.String())
	x.logger.Warn("索引写入失败，已加入补偿队列",
		zap.String("op", c.kind.String()),
		zap.String("user", c.userID),
		zap.String("item", c.key.String()),
		zap.Int("attempts", c.attempts),
		zap.Error(cause),
	)
	if dropped := x.pending.requeue(c); dropped != nil {
		x.logger.Warn("补偿队列已满，丢弃最旧的动作",
			zap.String("op", dropped.kind.String()),
			zap.String("user", dropped.userID),
			zap.String("item", dropped.key.String()),
		)
	}
	x.metrics.SetPendingCompensations(x.pending.len())
}

// RetryPending 幂等重放补偿队列，返回成功重放的数量
func (x *Index) RetryPending(ctx context.Context) (int, error) {
	actions := x.pending.drain()
	var (
		replayed int
		result   *multierror.Error
	)
	for i, c := range actions {
		if err := ctx.Err(); err != nil {
			// 未处理的动作放回队列
			for _, rest := range actions[i:] {
				x.pending.requeue(rest)
			}
			result = multierror.Append(result, err)
			break
		}
		if err := x.exec(ctx, c); err != nil {
			x.enqueue(c, err)
			result = multierror.Append(result, err)
			continue
		}
		replayed++
	}
	x.metrics.SetPendingCompensations(x.pending.len())
	return replayed, result.ErrorOrNil()
}
