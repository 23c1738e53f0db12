package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

func TestResolver_Classify(t *testing.T) {
	ctx := context.Background()

	t.Run("已被他人持有", func(t *testing.T) {
		h := newHarness(t, strategies[0])
		k := h.seed(t, "ds", 1)[0]
		stale := h.get(t, k)
		held, err := h.guard.Write(ctx, k, stale.ETag, model.ClaimPatch("alice", time.Now()))
		require.NoError(t, err)

		cls, err := h.resolver.Classify(ctx, &ConflictError{Key: k, ExpectedETag: stale.ETag}, "bob")
		require.NoError(t, err)
		assert.Equal(t, KindAlreadyHeldByOther, cls.Kind)
		assert.Equal(t, "alice", cls.HeldBy)
		assert.True(t, cls.HeldSince.Equal(*held.AssignedAt))

		var ahe *AlreadyHeldError
		require.ErrorAs(t, cls.Err(), &ahe)
		assert.Equal(t, "alice", ahe.HeldBy)
	})

	t.Run("自己已持有", func(t *testing.T) {
		h := newHarness(t, strategies[0])
		k := h.seed(t, "ds", 1)[0]
		stale := h.get(t, k)
		_, err := h.guard.Write(ctx, k, stale.ETag, model.ClaimPatch("alice", time.Now()))
		require.NoError(t, err)

		cls, err := h.resolver.Classify(ctx, &ConflictError{Key: k, ExpectedETag: stale.ETag}, "alice")
		require.NoError(t, err)
		assert.Equal(t, KindStaleWrite, cls.Kind)
		assert.Equal(t, StaleSelf, cls.Reason)
		assert.ErrorIs(t, cls.Err(), ErrStaleWrite)
	})

	t.Run("状态已变化", func(t *testing.T) {
		h := newHarness(t, strategies[0])
		k := h.seed(t, "ds", 1)[0]
		stale := h.get(t, k)
		approved := model.StatusApproved
		_, err := h.guard.Write(ctx, k, stale.ETag, model.Patch{Status: &approved, UpdatedBy: "carol"})
		require.NoError(t, err)

		cls, err := h.resolver.Classify(ctx, &ConflictError{Key: k, ExpectedETag: stale.ETag}, "bob")
		require.NoError(t, err)
		assert.Equal(t, StateChanged, cls.Reason)

		var swe *StaleWriteError
		require.ErrorAs(t, cls.Err(), &swe)
		assert.Equal(t, h.get(t, k).ETag, swe.CurrentETag)
	})

	t.Run("未分配但被编辑", func(t *testing.T) {
		h := newHarness(t, strategies[0])
		k := h.seed(t, "ds", 1)[0]
		stale := h.get(t, k)
		_, err := h.guard.Write(ctx, k, stale.ETag, model.Patch{Content: map[string]any{"x": 1}})
		require.NoError(t, err)

		cls, err := h.resolver.Classify(ctx, &ConflictError{Key: k, ExpectedETag: stale.ETag}, "bob")
		require.NoError(t, err)
		assert.Equal(t, StateChanged, cls.Reason)
	})

	t.Run("已删除", func(t *testing.T) {
		h := newHarness(t, strategies[0])
		k := h.seed(t, "ds", 1)[0]
		h.items.Delete(k)

		cls, err := h.resolver.Classify(ctx, &ConflictError{Key: k, ExpectedETag: "1"}, "bob")
		require.NoError(t, err)
		assert.Equal(t, Gone, cls.Reason)
		assert.Nil(t, cls.Current)
	})
}

func TestClassification_Labels(t *testing.T) {
	assert.Equal(t, "already_held", Classification{Kind: KindAlreadyHeldByOther}.Label())
	assert.Equal(t, "gone", Classification{Kind: KindStaleWrite, Reason: Gone}.Label())
	assert.ErrorIs(t, Classification{Kind: KindAlreadyHeldByOther}.Err(), ErrAlreadyHeld)
	assert.ErrorIs(t, Classification{Kind: KindStaleWrite, Reason: Gone}.Err(), ErrStaleWrite)
}
