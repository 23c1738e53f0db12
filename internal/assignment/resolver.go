package assignment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/metrics"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ConflictKind 冲突分类
type ConflictKind uint8

const (
	KindAlreadyHeldByOther ConflictKind = iota + 1
	KindStaleWrite
)

// StaleReason 令牌过期的具体原因
type StaleReason string

const (
	// StaleSelf 请求者已经持有该条目（自己先前的写入或重试已落盘）
	StaleSelf StaleReason = "stale_self"
	// StateChanged 条目已离开可领取状态，或被独立修改
	StateChanged StaleReason = "state_changed"
	// Gone 条目已从存储中删除
	Gone StaleReason = "gone"
)

// Classification 冲突分类结果
type Classification struct {
	Kind      ConflictKind
	Reason    StaleReason
	Key       model.ItemKey
	HeldBy    string
	HeldSince time.Time
	// Current 重新读取到的条目，Gone 时为 nil
	Current *model.WorkItem
}

// Label 指标与日志使用的分类名
func (c Classification) Label() string {
	if c.Kind == KindAlreadyHeldByOther {
		return "already_held"
	}
	return string(c.Reason)
}

// Err 转换为面向调用方的错误：AlreadyHeldError（409）或 StaleWriteError（412）
func (c Classification) Err() error {
	if c.Kind == KindAlreadyHeldByOther {
		return &AlreadyHeldError{Key: c.Key, HeldBy: c.HeldBy, HeldSince: c.HeldSince}
	}
	e := &StaleWriteError{Key: c.Key, Reason: c.Reason}
	if c.Current != nil {
		e.CurrentETag = c.Current.ETag
	}
	return e
}

// Resolver 冲突发生后重新读取条目，判断是他人持有还是自身令牌过期
type Resolver struct {
	repo    Repository
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewResolver(repo Repository, logger *zap.Logger, m metrics.Collector) *Resolver {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Resolver{repo: repo, logger: logger, metrics: m}
}

func (r *Resolver) Classify(ctx context.Context, conflict *ConflictError, requestingUser string) (Classification, error) {
	c := Classification{Kind: KindStaleWrite, Key: conflict.Key}

	cur, err := r.repo.Get(ctx, conflict.Key)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		c.Reason = Gone
	case err != nil:
		return Classification{}, err
	default:
		c.Current = cur
		holder := cur.Holder()
		switch {
		case cur.Status == model.StatusDraft && holder != "" && holder != requestingUser:
			c.Kind = KindAlreadyHeldByOther
			c.HeldBy = holder
			if cur.AssignedAt != nil {
				c.HeldSince = *cur.AssignedAt
			}
		case cur.IsHeld() && holder == requestingUser:
			c.Reason = StaleSelf
		default:
			c.Reason = StateChanged
		}
	}

	r.metrics.RecordConflict(c.Label())
	// 他人持有是预期内的竞争结果
	r.logger.Debug("条件写入冲突",
		zap.String("item", conflict.Key.String()),
		zap.String("user", requestingUser),
		zap.String("kind", c.Label()),
		zap.String("held_by", c.HeldBy),
	)
	return c, nil
}
