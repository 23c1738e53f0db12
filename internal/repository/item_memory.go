package repository

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// FaultHook 测试注入故障，返回非 nil 时对应操作直接失败
type FaultHook func(op string, key model.ItemKey) error

// MemoryItemStore 进程内条目存储，两种写入能力都具备
type MemoryItemStore struct {
	items  *xsync.Map[model.ItemKey, *model.WorkItem]
	hook   atomic.Pointer[FaultHook]
	writes atomic.Int64
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{items: xsync.NewMap[model.ItemKey, *model.WorkItem]()}
}

// ReplaceOnly 隐藏 PatchIfMatch，模拟只支持整体替换的存储
func (s *MemoryItemStore) ReplaceOnly() ItemStore {
	return replaceOnly{s}
}

type replaceOnly struct{ ItemStore }

// SetFaultHook 设置（或以 nil 清除）故障注入
func (s *MemoryItemStore) SetFaultHook(h FaultHook) {
	if h == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&h)
}

// Writes 成功提交的写入次数
func (s *MemoryItemStore) Writes() int64 {
	return s.writes.Load()
}

func (s *MemoryItemStore) fault(op string, key model.ItemKey) error {
	if h := s.hook.Load(); h != nil {
		return (*h)(op, key)
	}
	return nil
}

func (s *MemoryItemStore) Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	if err := s.fault("get", key); err != nil {
		return nil, err
	}
	item, ok := s.items.Load(key)
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryItemStore) Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error) {
	if err := s.fault("create", item.Key()); err != nil {
		return nil, err
	}
	row := item.Clone()
	row.Version = 1
	row.ETag = versionETag(1)
	if _, loaded := s.items.LoadOrStore(row.Key(), row); loaded {
		return nil, pkgerrors.ErrAlreadyExists
	}
	s.writes.Add(1)
	return row.Clone(), nil
}

// compareAndSwap 在键的临界区内校验令牌并计算新文档
func (s *MemoryItemStore) compareAndSwap(key model.ItemKey, etag string, next func(old *model.WorkItem) *model.WorkItem) (*model.WorkItem, error) {
	var (
		out    *model.WorkItem
		outErr error
	)
	s.items.Compute(key, func(old *model.WorkItem, loaded bool) (*model.WorkItem, xsync.ComputeOp) {
		if !loaded {
			// 条目不存在时令牌必然不匹配
			outErr = pkgerrors.ErrOptimisticLock
			return old, xsync.CancelOp
		}
		if old.ETag != etag {
			outErr = pkgerrors.ErrOptimisticLock
			return old, xsync.CancelOp
		}
		row := next(old)
		row.Version = old.Version + 1
		row.ETag = versionETag(row.Version)
		out = row.Clone()
		return row, xsync.UpdateOp
	})
	if outErr != nil {
		return nil, outErr
	}
	s.writes.Add(1)
	return out, nil
}

func (s *MemoryItemStore) ReplaceIfMatch(ctx context.Context, item *model.WorkItem, etag string) (*model.WorkItem, error) {
	if err := s.fault("replace", item.Key()); err != nil {
		return nil, err
	}
	return s.compareAndSwap(item.Key(), etag, func(*model.WorkItem) *model.WorkItem {
		return item.Clone()
	})
}

func (s *MemoryItemStore) PatchIfMatch(ctx context.Context, key model.ItemKey, etag string, patch model.Patch) (*model.WorkItem, error) {
	if err := s.fault("patch", key); err != nil {
		return nil, err
	}
	return s.compareAndSwap(key, etag, func(old *model.WorkItem) *model.WorkItem {
		row := old.Clone()
		patch.Apply(row)
		return row
	})
}

// Delete 直接移除条目（测试用，模拟外部删除）
func (s *MemoryItemStore) Delete(key model.ItemKey) {
	s.items.Delete(key)
}

func (s *MemoryItemStore) snapshot(filter func(*model.WorkItem) bool) []model.WorkItem {
	var out []model.WorkItem
	s.items.Range(func(_ model.ItemKey, item *model.WorkItem) bool {
		if filter(item) {
			out = append(out, *item.Clone())
		}
		return true
	})
	return out
}

func (s *MemoryItemStore) ListCandidates(ctx context.Context, q CandidateQuery) ([]model.WorkItem, error) {
	if err := s.fault("list", model.ItemKey{DatasetName: q.Dataset}); err != nil {
		return nil, err
	}
	items := s.snapshot(func(item *model.WorkItem) bool {
		return item.DatasetName == q.Dataset && item.IsClaimable()
	})
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	if q.Limit >= 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (s *MemoryItemStore) ListDatasets(ctx context.Context) ([]string, error) {
	if err := s.fault("list", model.ItemKey{}); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	s.items.Range(func(_ model.ItemKey, item *model.WorkItem) bool {
		if item.IsClaimable() {
			set[item.DatasetName] = struct{}{}
		}
		return true
	})
	names := make([]string, 0, len(set))
	for ds := range set {
		names = append(names, ds)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryItemStore) ListHeld(ctx context.Context) ([]model.WorkItem, error) {
	if err := s.fault("list", model.ItemKey{}); err != nil {
		return nil, err
	}
	return s.snapshot(func(item *model.WorkItem) bool { return item.IsHeld() }), nil
}

func (s *MemoryItemStore) CountHeldBy(ctx context.Context, userID string) (int, error) {
	held := s.snapshot(func(item *model.WorkItem) bool { return item.IsHeld() && item.Holder() == userID })
	return len(held), nil
}
