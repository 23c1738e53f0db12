package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

func TestReconciler_RepairsIndexAfterFaults(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			h := newHarness(t, strategy)
			ctx := context.Background()
			keys := h.seed(t, "ds", 6)

			// 索引全部失败时领取仍然成功
			h.indexStore.SetFaultHook(func(string, model.ItemKey) error { return errIndexDown })
			res, err := h.allocator.SelfServe(ctx, "alice", 3, nil)
			require.NoError(t, err)
			require.Len(t, res.Claimed, 3)
			assert.Empty(t, h.records(t, "alice"))

			h.indexStore.SetFaultHook(nil)
			// 丢弃补偿队列，完全依赖清理扫描
			h.index.pending.drain()

			// 孤儿记录：条目已不被 bob 持有
			require.NoError(t, h.indexStore.Put(ctx, model.AssignmentRecord{
				UserID: "bob", DatasetName: keys[5].DatasetName, Bucket: keys[5].Bucket, ItemID: keys[5].ID,
				Status: model.StatusDraft, AssignedAt: time.Now().UTC(),
			}))
			// 过期记录：assignedAt 与条目不一致
			claimed := res.Claimed[0]
			require.NoError(t, h.indexStore.Put(ctx, model.AssignmentRecord{
				UserID: "alice", DatasetName: claimed.DatasetName, Bucket: claimed.Bucket, ItemID: claimed.ID,
				Status: model.StatusDraft, AssignedAt: time.Unix(0, 0).UTC(),
			}))

			report, err := h.reconciler.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, report.Scanned)
			assert.Equal(t, 1, report.Removed)
			assert.Equal(t, 1, report.Refreshed)
			assert.Equal(t, 2, report.Created)

			recs := h.records(t, "alice")
			require.Len(t, recs, 3)
			for _, rec := range recs {
				assert.True(t, rec.Matches(h.get(t, rec.ItemKey())))
			}
			assert.Empty(t, h.records(t, "bob"))

			// 再次执行无任何变更
			again, err := h.reconciler.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, again.Scanned)
			assert.Zero(t, again.Removed+again.Created+again.Refreshed)
		})
	}
}

func TestReconciler_RemovesRecordOfDeletedItem(t *testing.T) {
	h := newHarness(t, strategies[0])
	ctx := context.Background()
	k := h.seed(t, "ds", 1)[0]

	res, err := h.allocator.SelfServe(ctx, "alice", 1, nil)
	require.NoError(t, err)
	require.Len(t, res.Claimed, 1)
	require.Len(t, h.records(t, "alice"), 1)

	h.items.Delete(k)
	report, err := h.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Empty(t, h.records(t, "alice"))
}

func TestReconciler_PartialFailureAggregated(t *testing.T) {
	h := newHarness(t, strategies[0])
	ctx := context.Background()
	h.seed(t, "ds", 2)

	h.indexStore.SetFaultHook(func(op string, _ model.ItemKey) error {
		if op == "put" {
			return errIndexDown
		}
		return nil
	})
	_, err := h.allocator.SelfServe(ctx, "alice", 2, nil)
	require.NoError(t, err)

	report, err := h.reconciler.Run(ctx)
	require.Error(t, err)
	assert.Zero(t, report.Created)
	assert.Contains(t, err.Error(), "2 errors")
}

func TestRunLoop_DisabledReturnsImmediately(t *testing.T) {
	h := newHarness(t, strategies[0])
	done := make(chan struct{})
	go func() {
		RunLoop(context.Background(), h.index, h.reconciler, 0, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interval 为 0 时应立即返回")
	}
}

func TestRunLoop_RepairsPeriodically(t *testing.T) {
	h := newHarness(t, strategies[0])
	h.seed(t, "ds", 2)
	h.indexStore.SetFaultHook(func(string, model.ItemKey) error { return errIndexDown })
	_, err := h.allocator.SelfServe(context.Background(), "alice", 2, nil)
	require.NoError(t, err)
	h.indexStore.SetFaultHook(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunLoop(ctx, h.index, h.reconciler, 10*time.Millisecond, zap.NewNop())

	assert.Eventually(t, func() bool {
		recs, _ := h.indexStore.ListByUser(context.Background(), "alice")
		return len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
