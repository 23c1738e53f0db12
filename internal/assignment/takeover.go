package assignment

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

// RoleSet 上游已验证的角色集合，核心只做成员判断
type RoleSet = mapset.Set[string]

func NewRoleSet(roles ...string) RoleSet {
	return mapset.NewSet(roles...)
}

// Actor 发起操作的用户
type Actor struct {
	UserID string
	Roles  RoleSet
}

// TakeoverAuthorizer 特权角色绕过"仅可领取未分配条目"的限制，强制改派或释放
// 改派仍经过 Guard 的条件写入，不会与并发写入者同时成功
type TakeoverAuthorizer struct {
	guard      *Guard
	index      *Index
	privileged RoleSet
	logger     *zap.Logger
}

func NewTakeoverAuthorizer(guard *Guard, index *Index, privilegedRoles []string, logger *zap.Logger) *TakeoverAuthorizer {
	return &TakeoverAuthorizer{
		guard:      guard,
		index:      index,
		privileged: NewRoleSet(privilegedRoles...),
		logger:     logger,
	}
}

// Authorize 角色集合与特权集合无交集时返回 PermissionError
func (t *TakeoverAuthorizer) Authorize(roles RoleSet) error {
	if roles != nil {
		for _, r := range roles.ToSlice() {
			if t.privileged.Contains(r) {
				return nil
			}
		}
	}
	required := t.privileged.ToSlice()
	sort.Strings(required)
	return &PermissionError{Required: required}
}

// ForceAssign 无论当前状态与持有人，一次条件写入中将条目重置为草稿并指派给 newUser
// 鉴权在任何存储访问之前完成；令牌冲突直接返回，不重试
func (t *TakeoverAuthorizer) ForceAssign(ctx context.Context, key model.ItemKey, newUser string, actor Actor) (*model.WorkItem, error) {
	if err := t.Authorize(actor.Roles); err != nil {
		return nil, err
	}
	if newUser == "" {
		return nil, ErrInvalidUser
	}

	cur, err := t.guard.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	prior := cur.Holder()

	updated, err := t.guard.Write(ctx, key, cur.ETag, model.TakeoverPatch(newUser, actor.UserID, t.guard.now()))
	if err != nil {
		return nil, err
	}

	if prior != "" && prior != newUser {
		t.index.Retire(ctx, prior, key)
	}
	t.index.Materialize(ctx, updated)

	t.logger.Info("强制分配",
		zap.String("item", key.String()),
		zap.String("operator", actor.UserID),
		zap.String("from", prior),
		zap.String("to", newUser),
	)
	return updated, nil
}

// ForceClear 释放被持有的草稿条目；条目未被持有时不写入，原样返回
func (t *TakeoverAuthorizer) ForceClear(ctx context.Context, key model.ItemKey, actor Actor) (*model.WorkItem, error) {
	if err := t.Authorize(actor.Roles); err != nil {
		return nil, err
	}

	cur, err := t.guard.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !cur.IsHeld() {
		return cur, nil
	}
	prior := cur.Holder()

	updated, err := t.guard.Write(ctx, key, cur.ETag, model.ClearPatch(actor.UserID, t.guard.now()))
	if err != nil {
		return nil, err
	}
	t.index.Retire(ctx, prior, key)

	t.logger.Info("强制释放",
		zap.String("item", key.String()),
		zap.String("operator", actor.UserID),
		zap.String("from", prior),
	)
	return updated, nil
}
