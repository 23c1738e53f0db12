package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ReconcileReport 一次清理扫描的统计
type ReconcileReport struct {
	Scanned   int           `json:"scanned"`
	Removed   int           `json:"removed"`
	Created   int           `json:"created"`
	Refreshed int           `json:"refreshed"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler 以条目文档为准修正分配索引，可重复执行
type Reconciler struct {
	repo    Repository
	store   repository.IndexStore
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewReconciler(repo Repository, store repository.IndexStore, logger *zap.Logger, m metrics.Collector) *Reconciler {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Reconciler{repo: repo, store: store, logger: logger, metrics: m}
}

// Run 删除不再成立的记录，刷新 assignedAt 不一致的记录，并为缺失记录的持有条目补建
// 单条失败不会中断扫描，全部错误聚合返回
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()
	var (
		report ReconcileReport
		errs   *multierror.Error
	)

	recs, err := r.store.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("读取分配索引失败: %w", err)
	}

	covered := make(map[compKey]struct{}, len(recs))
	items := make(map[model.ItemKey]*model.WorkItem)

	// ── 阶段一：逐条校验索引记录 ──
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, multierror.Append(errs, err)
		}
		report.Scanned++
		key := rec.ItemKey()

		item, ok := items[key]
		if !ok {
			item, err = r.repo.Get(ctx, key)
			if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
				errs = multierror.Append(errs, fmt.Errorf("读取条目 %s: %w", key, err))
				continue
			}
			items[key] = item
		}

		if item == nil || !item.IsHeld() || item.Holder() != rec.UserID {
			if err := r.store.Delete(ctx, rec.UserID, key); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("删除记录 %s/%s: %w", rec.UserID, key, err))
				continue
			}
			report.Removed++
			continue
		}

		covered[compKey{userID: rec.UserID, key: key}] = struct{}{}
		if !rec.Matches(item) {
			if err := r.store.Put(ctx, model.NewAssignmentRecord(item)); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("刷新记录 %s/%s: %w", rec.UserID, key, err))
				continue
			}
			report.Refreshed++
		}
	}

	// ── 阶段二：补建缺失的记录 ──
	held, err := r.repo.ListHeld(ctx)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("查询已分配条目失败: %w", err))
	}
	for i := range held {
		item := &held[i]
		if _, ok := covered[compKey{userID: item.Holder(), key: item.Key()}]; ok {
			continue
		}
		if err := r.store.Put(ctx, model.NewAssignmentRecord(item)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("补建记录 %s: %w", item.Key(), err))
			continue
		}
		report.Created++
	}

	report.Duration = time.Since(start)
	r.metrics.RecordReconcile(report.Removed, report.Created, report.Refreshed)
	r.logger.Info("分配索引清理完成",
		zap.Int("scanned", report.Scanned),
		zap.Int("removed", report.Removed),
		zap.Int("created", report.Created),
		zap.Int("refreshed", report.Refreshed),
		zap.Duration("duration", report.Duration),
	)
	return report, errs.ErrorOrNil()
}

// RunLoop 周期性重放补偿队列并执行清理扫描，ctx 取消时返回
func RunLoop(ctx context.Context, index *Index, rec *Reconciler, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := index.RetryPending(ctx); err != nil {
				logger.Warn("补偿队列重放未完成", zap.Int("replayed", n), zap.Error(err))
			}
			if _, err := rec.Run(ctx); err != nil {
				logger.Error("分配索引清理失败", zap.Error(err))
			}
		}
	}
}
