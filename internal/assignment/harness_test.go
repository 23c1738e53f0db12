package assignment

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/repository"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// harness 内存存储上组装的完整核心
type harness struct {
	items      *repository.MemoryItemStore
	indexStore *repository.MemoryIndexStore
	repo       Repository
	guard      *Guard
	resolver   *Resolver
	index      *Index
	takeover   *TakeoverAuthorizer
	allocator  *Allocator
	reconciler *Reconciler
}

var strategies = []string{config.CapabilityConditionalPatch, config.CapabilityReadModifyReplace}

func newHarness(t *testing.T, capability string) *harness {
	t.Helper()
	return newHarnessWith(t, capability, AllocatorConfig{
		OvershootFactor:   3,
		CandidatePoolSize: 200,
		MaxBatchSize:      50,
		MaxRefills:        1,
	})
}

func newHarnessWith(t *testing.T, capability string, cfg AllocatorConfig) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		items:      repository.NewMemoryItemStore(),
		indexStore: repository.NewMemoryIndexStore(),
	}

	var store repository.ItemStore = h.items
	if capability == config.CapabilityReadModifyReplace {
		store = h.items.ReplaceOnly()
	}
	repo, err := NewRepository(store, capability, RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	h.repo = repo
	h.guard = NewGuard(repo, nil)
	h.resolver = NewResolver(repo, logger, nil)
	h.index = NewIndex(h.indexStore, 16, logger, nil)
	h.takeover = NewTakeoverAuthorizer(h.guard, h.index, []string{"admin", "team-lead"}, logger)
	h.allocator = NewAllocator(repo, h.guard, h.resolver, h.index, UniformWeighting{}, cfg, logger, nil)
	h.reconciler = NewReconciler(repo, h.indexStore, logger, nil)
	return h
}

func key(ds string, bucket int, id string) model.ItemKey {
	return model.ItemKey{DatasetName: ds, Bucket: bucket, ID: id}
}

// seed 在数据集中创建 n 个未分配草稿条目
func (h *harness) seed(t *testing.T, ds string, n int) []model.ItemKey {
	t.Helper()
	keys := make([]model.ItemKey, 0, n)
	for i := 0; i < n; i++ {
		k := key(ds, i%4, fmt.Sprintf("gt_%d", i+1))
		_, err := h.items.Create(context.Background(), &model.WorkItem{
			DatasetName: k.DatasetName,
			Bucket:      k.Bucket,
			ID:          k.ID,
			Status:      model.StatusDraft,
		})
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func (h *harness) get(t *testing.T, k model.ItemKey) *model.WorkItem {
	t.Helper()
	item, err := h.items.Get(context.Background(), k)
	require.NoError(t, err)
	return item
}

func (h *harness) records(t *testing.T, user string) []model.AssignmentRecord {
	t.Helper()
	recs, err := h.indexStore.ListByUser(context.Background(), user)
	require.NoError(t, err)
	return recs
}

// failFirst 对指定操作的前 n 次调用返回瞬时错误
func failFirst(op string, n int32) repository.FaultHook {
	var calls atomic.Int32
	return func(o string, _ model.ItemKey) error {
		if o != op {
			return nil
		}
		if calls.Add(1) <= n {
			return fmt.Errorf("%s: %w: connection reset", op, pkgerrors.ErrTransient)
		}
		return nil
	}
}

func admin(user string) Actor {
	return Actor{UserID: user, Roles: NewRoleSet("admin")}
}

func member(user string) Actor {
	return Actor{UserID: user, Roles: NewRoleSet("curator")}
}

func transientErr() error {
	return fmt.Errorf("patch: %w: timeout", pkgerrors.ErrTransient)
}
