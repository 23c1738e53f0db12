package repository

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

type indexKey struct {
	user string
	item model.ItemKey
}

// MemoryIndexStore 进程内分配索引
type MemoryIndexStore struct {
	recs *xsync.Map[indexKey, model.AssignmentRecord]
	hook atomic.Pointer[FaultHook]
}

func NewMemoryIndexStore() *MemoryIndexStore {
	return &MemoryIndexStore{recs: xsync.NewMap[indexKey, model.AssignmentRecord]()}
}

// SetFaultHook 设置（或以 nil 清除）故障注入，op 为 put / delete
func (s *MemoryIndexStore) SetFaultHook(h FaultHook) {
	if h == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&h)
}

func (s *MemoryIndexStore) fault(op string, key model.ItemKey) error {
	if h := s.hook.Load(); h != nil {
		return (*h)(op, key)
	}
	return nil
}

func (s *MemoryIndexStore) Put(ctx context.Context, rec model.AssignmentRecord) error {
	if err := s.fault("put", rec.ItemKey()); err != nil {
		return err
	}
	s.recs.Store(indexKey{user: rec.UserID, item: rec.ItemKey()}, rec)
	return nil
}

func (s *MemoryIndexStore) Delete(ctx context.Context, userID string, key model.ItemKey) error {
	if err := s.fault("delete", key); err != nil {
		return err
	}
	s.recs.Delete(indexKey{user: userID, item: key})
	return nil
}

func (s *MemoryIndexStore) collect(match func(indexKey) bool) []model.AssignmentRecord {
	var out []model.AssignmentRecord
	s.recs.Range(func(k indexKey, rec model.AssignmentRecord) bool {
		if match(k) {
			out = append(out, rec)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ItemKey().String() < out[j].ItemKey().String()
	})
	return out
}

func (s *MemoryIndexStore) ListByUser(ctx context.Context, userID string) ([]model.AssignmentRecord, error) {
	return s.collect(func(k indexKey) bool { return k.user == userID }), nil
}

func (s *MemoryIndexStore) ListAll(ctx context.Context) ([]model.AssignmentRecord, error) {
	return s.collect(func(indexKey) bool { return true }), nil
}
