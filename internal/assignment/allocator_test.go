package assignment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

// 场景：A 与 B 同时读取到未分配的 ds/0/gt_1，并以相同令牌领取
func TestSelfServe_RaceOnSingleItem(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			h := newHarness(t, strategy)
			ctx := context.Background()
			k := key("ds", 0, "gt_1")
			_, err := h.items.Create(ctx, &model.WorkItem{DatasetName: "ds", Bucket: 0, ID: "gt_1", Status: model.StatusDraft})
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				results = make(map[string]*SelfServeResult)
				mu      sync.Mutex
			)
			for _, user := range []string{"A", "B"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := h.allocator.SelfServe(ctx, user, 1, nil)
					require.NoError(t, err)
					mu.Lock()
					results[user] = res
					mu.Unlock()
				}()
			}
			wg.Wait()

			winner := h.get(t, k).Holder()
			require.Contains(t, []string{"A", "B"}, winner)
			loser := "A"
			if winner == "A" {
				loser = "B"
			}
			assert.Len(t, results[winner].Claimed, 1)
			assert.Empty(t, results[loser].Claimed, "落败者不报错，只是少领")
			assert.Len(t, h.records(t, winner), 1)
			assert.Empty(t, h.records(t, loser))
		})
	}
}

func TestSelfServe_NoLostClaimsUnderContention(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			h := newHarnessWith(t, strategy, AllocatorConfig{
				OvershootFactor:   3,
				CandidatePoolSize: 200,
				MaxBatchSize:      50,
				MaxRefills:        3,
			})
			ctx := context.Background()
			h.seed(t, "alpha", 40)
			h.seed(t, "beta", 40)

			const users = 12
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed = make(map[model.ItemKey]string)
				total   int
			)
			for u := 0; u < users; u++ {
				user := fmt.Sprintf("user-%d", u)
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := h.allocator.SelfServe(ctx, user, 5, nil)
					require.NoError(t, err)
					mu.Lock()
					defer mu.Unlock()
					for _, it := range res.Claimed {
						prev, dup := claimed[it.Key()]
						assert.False(t, dup, "条目 %s 同时出现在 %s 与 %s 的结果中", it.Key(), prev, user)
						claimed[it.Key()] = user
						total++
					}
				}()
			}
			wg.Wait()

			// 每个返回的领取都对应存储中的真实持有人，反之亦然
			held, err := h.repo.ListHeld(ctx)
			require.NoError(t, err)
			assert.Len(t, held, total)
			for _, it := range held {
				assert.Equal(t, claimed[it.Key()], it.Holder())
			}
			all, err := h.indexStore.ListAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, total)
		})
	}
}

func TestSelfServe_ShortfallIsNotError(t *testing.T) {
	h := newHarness(t, strategies[0])
	h.seed(t, "ds", 2)

	res, err := h.allocator.SelfServe(context.Background(), "alice", 10, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 2)
	assert.Equal(t, 10, res.Requested)

	res, err = h.allocator.SelfServe(context.Background(), "bob", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Claimed)
	assert.NotNil(t, res.Claimed)
}

func TestSelfServe_InvalidInput(t *testing.T) {
	h := newHarness(t, strategies[0])
	ctx := context.Background()

	_, err := h.allocator.SelfServe(ctx, "", 1, nil)
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = h.allocator.SelfServe(ctx, "alice", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = h.allocator.SelfServe(ctx, "alice", 1, map[string]float64{"ds": -1})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestSelfServe_RequestWeights(t *testing.T) {
	h := newHarnessWith(t, strategies[0], AllocatorConfig{OvershootFactor: 1, MaxBatchSize: 50})
	h.seed(t, "alpha", 20)
	h.seed(t, "beta", 20)

	res, err := h.allocator.SelfServe(context.Background(), "alice", 4, map[string]float64{"beta": 1})
	require.NoError(t, err)
	require.Len(t, res.Claimed, 4)
	for _, it := range res.Claimed {
		assert.Equal(t, "beta", it.DatasetName)
	}
}

func TestSelfServe_MaxActivePerUser(t *testing.T) {
	h := newHarnessWith(t, strategies[0], AllocatorConfig{OvershootFactor: 2, MaxBatchSize: 50, MaxActivePerUser: 3})
	h.seed(t, "ds", 10)
	ctx := context.Background()

	res, err := h.allocator.SelfServe(ctx, "alice", 2, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 2)

	res, err = h.allocator.SelfServe(ctx, "alice", 5, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 1, "超出剩余额度的部分被截断")

	res, err = h.allocator.SelfServe(ctx, "alice", 1, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Claimed)
}

func TestSelfServe_BatchSizeClamp(t *testing.T) {
	h := newHarnessWith(t, strategies[0], AllocatorConfig{OvershootFactor: 2, MaxBatchSize: 3})
	h.seed(t, "ds", 10)

	res, err := h.allocator.SelfServe(context.Background(), "alice", 8, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 3)
	assert.Equal(t, 8, res.Requested)
}

// 候选全部被他人抢先时，补充一轮重新查询
func TestSelfServe_RefillAfterCollisions(t *testing.T) {
	h := newHarnessWith(t, strategies[0], AllocatorConfig{OvershootFactor: 1, MaxBatchSize: 50, MaxRefills: 1})
	ctx := context.Background()
	h.seed(t, "ds", 4)

	// 前两次领取写入之前，候选已被他人抢走
	var (
		nested atomic.Bool
		raced  int
	)
	h.items.SetFaultHook(func(op string, fk model.ItemKey) error {
		if op != "patch" || nested.Load() || raced >= 2 {
			return nil
		}
		raced++
		nested.Store(true)
		defer nested.Store(false)
		cur, err := h.items.Get(ctx, fk)
		require.NoError(t, err)
		_, err = h.items.PatchIfMatch(ctx, fk, cur.ETag, model.ClaimPatch("racer", time.Now()))
		require.NoError(t, err)
		return nil
	})

	res, err := h.allocator.SelfServe(ctx, "alice", 2, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 2)
	assert.Equal(t, 2, res.Collisions)
	assert.Equal(t, 4, res.Attempts)
}

// 小数据集候选不足均分名额时，缺口转给仍有候选的数据集
func TestSelfServe_SkewedDatasetsFillBatch(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			h := newHarness(t, strategy)
			for i := 0; i < 9; i++ {
				h.seed(t, fmt.Sprintf("small%d", i), 1)
			}
			h.seed(t, "big", 1000)

			res, err := h.allocator.SelfServe(context.Background(), "u", 50, nil)
			require.NoError(t, err)
			assert.Len(t, res.Claimed, 50)
			assert.Zero(t, res.Collisions)

			held, err := h.items.CountHeldBy(context.Background(), "u")
			require.NoError(t, err)
			assert.Equal(t, 50, held)
		})
	}
}

// 按比例抽取时，无候选的权重份额同样转给其余数据集
func TestSelfServe_WeightedShortDatasetFillsFromOthers(t *testing.T) {
	h := newHarnessWith(t, strategies[0], AllocatorConfig{OvershootFactor: 1, MaxBatchSize: 50})
	h.seed(t, "alpha", 2)
	h.seed(t, "beta", 8)

	res, err := h.allocator.SelfServe(context.Background(), "alice", 10, map[string]float64{"alpha": 9, "beta": 1})
	require.NoError(t, err)
	require.Len(t, res.Claimed, 10)

	perDataset := map[string]int{}
	for _, it := range res.Claimed {
		perDataset[it.DatasetName]++
	}
	assert.Equal(t, 2, perDataset["alpha"])
	assert.Equal(t, 8, perDataset["beta"])
}

func TestSelfServe_StaleSelfCountsAsClaim(t *testing.T) {
	h := newHarness(t, strategies[0])
	ctx := context.Background()
	k := h.seed(t, "ds", 1)[0]

	// 首次写入已落盘但响应丢失，重试时遇到自身写入造成的冲突
	var fired atomic.Bool
	h.items.SetFaultHook(func(op string, fk model.ItemKey) error {
		if op != "patch" || !fired.CompareAndSwap(false, true) {
			return nil
		}
		cur, err := h.items.Get(ctx, fk)
		require.NoError(t, err)
		_, err = h.items.PatchIfMatch(ctx, fk, cur.ETag, model.ClaimPatch("alice", time.Now()))
		require.NoError(t, err)
		return transientErr()
	})

	res, err := h.allocator.SelfServe(ctx, "alice", 1, nil)
	require.NoError(t, err)
	require.Len(t, res.Claimed, 1)
	assert.Equal(t, k, res.Claimed[0].Key())
	assert.Zero(t, res.Collisions)
	assert.Len(t, h.records(t, "alice"), 1)
}

func TestSelfServe_CanceledContextKeepsCommittedClaims(t *testing.T) {
	h := newHarness(t, strategies[0])
	h.seed(t, "ds", 10)
	ctx, cancel := context.WithCancel(context.Background())

	writes := 0
	h.items.SetFaultHook(func(op string, _ model.ItemKey) error {
		if op == "patch" {
			writes++
			if writes == 3 {
				cancel()
			}
		}
		return nil
	})

	res, err := h.allocator.SelfServe(ctx, "alice", 8, nil)
	require.NoError(t, err)
	assert.Len(t, res.Claimed, 3)

	held, err := h.repo.CountHeldBy(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, held)
	assert.Len(t, h.records(t, "alice"), 3, "取消后已提交领取的索引仍需写入")
}

func TestSelfServe_TransientBeforeAnyClaim(t *testing.T) {
	h := newHarness(t, strategies[0])
	h.seed(t, "ds", 3)
	h.items.SetFaultHook(failFirst("patch", 100))

	_, err := h.allocator.SelfServe(context.Background(), "alice", 2, nil)
	assert.ErrorIs(t, err, ErrTransientStore)
}
