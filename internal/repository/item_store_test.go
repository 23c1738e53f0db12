package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ═══════════════════════════════════════════════════════════
// 测试基础设施
// ═══════════════════════════════════════════════════════════

func startKV(t *testing.T) jetstream.KeyValue {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		JetStream: true,
		Port:      -1,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "NATS 未就绪")

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{Bucket: "work_items_test"})
	require.NoError(t, err)
	return kv
}

func draftItem(ds string, bucket int, id string) *model.WorkItem {
	return &model.WorkItem{
		DatasetName: ds,
		Bucket:      bucket,
		ID:          id,
		Status:      model.StatusDraft,
		Content:     map[string]interface{}{"question": "q-" + id},
	}
}

type storeCase struct {
	name  string
	store func(t *testing.T) ItemStore
}

func itemStores() []storeCase {
	return []storeCase{
		{"memory", func(t *testing.T) ItemStore { return NewMemoryItemStore() }},
		{"memory-replace-only", func(t *testing.T) ItemStore { return NewMemoryItemStore().ReplaceOnly() }},
		{"nats-kv", func(t *testing.T) ItemStore { return NewKVItemStore(startKV(t), zap.NewNop()) }},
	}
}

// ═══════════════════════════════════════════════════════════
// 共享行为：所有后端一致
// ═══════════════════════════════════════════════════════════

func TestItemStore_CreateGet(t *testing.T) {
	for _, tc := range itemStores() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()

			created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
			require.NoError(t, err)
			assert.NotEmpty(t, created.ETag)

			got, err := s.Get(ctx, model.ItemKey{DatasetName: "ds", Bucket: 0, ID: "gt_1"})
			require.NoError(t, err)
			assert.Equal(t, created.ETag, got.ETag)
			assert.Equal(t, model.StatusDraft, got.Status)
			assert.Equal(t, "q-gt_1", got.Content["question"])

			_, err = s.Create(ctx, draftItem("ds", 0, "gt_1"))
			assert.ErrorIs(t, err, pkgerrors.ErrAlreadyExists)

			_, err = s.Get(ctx, model.ItemKey{DatasetName: "ds", Bucket: 0, ID: "missing"})
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
		})
	}
}

func TestItemStore_ReplaceIfMatch(t *testing.T) {
	for _, tc := range itemStores() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()
			created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
			require.NoError(t, err)

			// 两份副本持有相同令牌，只有第一次写入成功
			copy1 := created.Clone()
			copy2 := created.Clone()

			model.ClaimPatch("alice", time.Now()).Apply(copy1)
			updated, err := s.ReplaceIfMatch(ctx, copy1, created.ETag)
			require.NoError(t, err)
			assert.NotEqual(t, created.ETag, updated.ETag)
			assert.Equal(t, "alice", updated.Holder())

			model.ClaimPatch("bob", time.Now()).Apply(copy2)
			_, err = s.ReplaceIfMatch(ctx, copy2, created.ETag)
			assert.ErrorIs(t, err, pkgerrors.ErrOptimisticLock)

			got, err := s.Get(ctx, created.Key())
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Holder())
			assert.Equal(t, updated.ETag, got.ETag)
		})
	}
}

func TestItemStore_ReplaceIfMatch_GarbageToken(t *testing.T) {
	for _, tc := range itemStores() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()
			created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
			require.NoError(t, err)

			_, err = s.ReplaceIfMatch(ctx, created, "not-a-token")
			assert.ErrorIs(t, err, pkgerrors.ErrOptimisticLock)
		})
	}
}

func TestItemStore_Queries(t *testing.T) {
	for _, tc := range itemStores() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()
			for _, id := range []string{"a1", "a2", "a3", "a4"} {
				_, err := s.Create(ctx, draftItem("alpha", 0, id))
				require.NoError(t, err)
			}
			_, err := s.Create(ctx, draftItem("beta", 1, "b1"))
			require.NoError(t, err)

			approved := draftItem("gamma", 0, "g1")
			approved.Status = model.StatusApproved
			_, err = s.Create(ctx, approved)
			require.NoError(t, err)

			// a1 被 alice 领取
			a1, err := s.Get(ctx, model.ItemKey{DatasetName: "alpha", Bucket: 0, ID: "a1"})
			require.NoError(t, err)
			model.ClaimPatch("alice", time.Now()).Apply(a1)
			_, err = s.ReplaceIfMatch(ctx, a1, a1.ETag)
			require.NoError(t, err)

			datasets, err := s.ListDatasets(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"alpha", "beta"}, datasets)

			cands, err := s.ListCandidates(ctx, CandidateQuery{Dataset: "alpha", Limit: 10})
			require.NoError(t, err)
			assert.Len(t, cands, 3)
			for _, c := range cands {
				assert.True(t, c.IsClaimable())
				assert.NotEmpty(t, c.ETag)
			}

			limited, err := s.ListCandidates(ctx, CandidateQuery{Dataset: "alpha", Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			held, err := s.ListHeld(ctx)
			require.NoError(t, err)
			require.Len(t, held, 1)
			assert.Equal(t, "a1", held[0].ID)

			n, err := s.CountHeldBy(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

// ═══════════════════════════════════════════════════════════
// 并发：同一令牌仅一个写入者成功
// ═══════════════════════════════════════════════════════════

func TestItemStore_ConcurrentReplaceSingleWinner(t *testing.T) {
	for _, tc := range itemStores() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store(t)
			ctx := context.Background()
			created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
			require.NoError(t, err)

			const writers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins []string
			)
			for i := 0; i < writers; i++ {
				user := string(rune('a' + i))
				wg.Add(1)
				go func() {
					defer wg.Done()
					c := created.Clone()
					model.ClaimPatch(user, time.Now()).Apply(c)
					if _, err := s.ReplaceIfMatch(ctx, c, created.ETag); err == nil {
						mu.Lock()
						wins = append(wins, user)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			require.Len(t, wins, 1)
			got, err := s.Get(ctx, created.Key())
			require.NoError(t, err)
			assert.Equal(t, wins[0], got.Holder())
		})
	}
}

// ═══════════════════════════════════════════════════════════
// 字段级条件更新（内存存储）
// ═══════════════════════════════════════════════════════════

func TestMemoryItemStore_PatchIfMatch(t *testing.T) {
	s := NewMemoryItemStore()
	ctx := context.Background()
	created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
	require.NoError(t, err)

	patch := model.ClaimPatch("alice", time.Now())
	patch.Content = map[string]any{"answer": "42"}
	updated, err := s.PatchIfMatch(ctx, created.Key(), created.ETag, patch)
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.Holder())
	assert.Equal(t, "42", updated.Content["answer"])
	assert.Equal(t, "q-gt_1", updated.Content["question"], "内容浅合并保留原有键")

	_, err = s.PatchIfMatch(ctx, created.Key(), created.ETag, model.ClaimPatch("bob", time.Now()))
	assert.ErrorIs(t, err, pkgerrors.ErrOptimisticLock)

	_, err = s.PatchIfMatch(ctx, model.ItemKey{DatasetName: "ds", ID: "missing"}, "1", patch)
	assert.ErrorIs(t, err, pkgerrors.ErrOptimisticLock)
	assert.Equal(t, int64(2), s.Writes())
}

func TestMemoryItemStore_ReplaceOnlyHidesPatch(t *testing.T) {
	var store ItemStore = NewMemoryItemStore()
	_, ok := store.(PatchStore)
	assert.True(t, ok)

	_, ok = NewMemoryItemStore().ReplaceOnly().(PatchStore)
	assert.False(t, ok)
}

func TestMemoryItemStore_FaultHook(t *testing.T) {
	s := NewMemoryItemStore()
	ctx := context.Background()
	created, err := s.Create(ctx, draftItem("ds", 0, "gt_1"))
	require.NoError(t, err)

	s.SetFaultHook(func(op string, _ model.ItemKey) error {
		if op == "patch" {
			return transient("patch", context.DeadlineExceeded)
		}
		return nil
	})
	_, err = s.PatchIfMatch(ctx, created.Key(), created.ETag, model.ClaimPatch("alice", time.Now()))
	assert.ErrorIs(t, err, pkgerrors.ErrTransient)

	s.SetFaultHook(nil)
	_, err = s.PatchIfMatch(ctx, created.Key(), created.ETag, model.ClaimPatch("alice", time.Now()))
	assert.NoError(t, err)
}

func TestKVKey_RoundTrip(t *testing.T) {
	key := model.ItemKey{DatasetName: "faq v2.zh", Bucket: 7, ID: "gt:1 *x>"}
	k := kvKey(key)
	assert.NotContains(t, k, " ")
	assert.NotContains(t, k, "*")

	got, err := parseKVKey(k)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = parseKVKey("only.two")
	assert.ErrorIs(t, err, model.ErrInvalidItemKey)
}

func TestKVItemStore_CorruptEntrySkippedAndLogged(t *testing.T) {
	kv := startKV(t)
	core, logs := observer.New(zap.WarnLevel)
	s := NewKVItemStore(kv, zap.New(core))
	ctx := context.Background()

	_, err := s.Create(ctx, draftItem("ds", 0, "ok"))
	require.NoError(t, err)
	broken := model.ItemKey{DatasetName: "ds", Bucket: 1, ID: "broken"}
	_, err = kv.Put(ctx, kvKey(broken), []byte("{not json"))
	require.NoError(t, err)

	items, err := s.ListCandidates(ctx, CandidateQuery{Dataset: "ds", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].ID)

	entries := logs.FilterMessage("条目解码失败，已跳过").All()
	require.Len(t, entries, 1)
	assert.Equal(t, broken.String(), entries[0].ContextMap()["item"])
}
