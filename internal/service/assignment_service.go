package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/dto"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ── 领取分配模块业务错误 ──

var (
	ErrItemNotFound      = errors.New("条目不存在")
	ErrNotAssignable     = errors.New("条目当前状态不可分配")
	ErrInvalidTransition = errors.New("不允许的状态变更")
	ErrETagRequired      = errors.New("缺少并发令牌（etag 或 If-Match）")
	ErrEmptyUpdate       = errors.New("没有需要更新的字段")
)

// AssignmentService 领取分配业务接口
type AssignmentService interface {
	SelfServeAssign(ctx context.Context, userID string, req *dto.SelfServeRequest) (*dto.SelfServeResponse, error)
	MyAssignments(ctx context.Context, userID string) ([]dto.AssignmentResponse, error)
	GetItem(ctx context.Context, key model.ItemKey) (*dto.WorkItemResponse, error)
	AssignItem(ctx context.Context, key model.ItemKey, req *dto.AssignItemRequest, actor assignment.Actor) (*dto.WorkItemResponse, error)
	UpdateItem(ctx context.Context, key model.ItemKey, req *dto.UpdateItemRequest, actor assignment.Actor) (*dto.WorkItemResponse, error)
	ClearAssignment(ctx context.Context, key model.ItemKey, actor assignment.Actor) (*dto.WorkItemResponse, error)
	Reconcile(ctx context.Context, actor assignment.Actor) (*dto.ReconcileResponse, error)
	ImportItems(ctx context.Context, req *dto.ImportItemsRequest, actor assignment.Actor) (*dto.ImportItemsResponse, error)
}

type assignmentService struct {
	core    *assignment.Core
	buckets int
	logger  *zap.Logger
}

// NewAssignmentService 创建 AssignmentService 实例
func NewAssignmentService(core *assignment.Core, buckets int, logger *zap.Logger) AssignmentService {
	if buckets <= 0 {
		buckets = 1
	}
	return &assignmentService{core: core, buckets: buckets, logger: logger}
}

// ────────────────────── SelfServeAssign ──────────────────────

func (s *assignmentService) SelfServeAssign(ctx context.Context, userID string, req *dto.SelfServeRequest) (*dto.SelfServeResponse, error) {
	res, err := s.core.Allocator.SelfServe(ctx, userID, req.Count, req.Weights)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(res.Claimed))
	for i := range res.Claimed {
		keys = append(keys, res.Claimed[i].Key().String())
	}
	return &dto.SelfServeResponse{
		ClaimedItemKeys: keys,
		ClaimedCount:    len(keys),
		Requested:       res.Requested,
		Attempts:        res.Attempts,
		Collisions:      res.Collisions,
	}, nil
}

// ────────────────────── MyAssignments ──────────────────────

func (s *assignmentService) MyAssignments(ctx context.Context, userID string) ([]dto.AssignmentResponse, error) {
	recs, err := s.core.Index.ListForUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询分配列表失败", zap.String("user", userID), zap.Error(err))
		return nil, err
	}
	out := make([]dto.AssignmentResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dto.AssignmentResponse{
			ItemKey:     rec.ItemKey().String(),
			DatasetName: rec.DatasetName,
			Bucket:      rec.Bucket,
			ID:          rec.ItemID,
			Status:      rec.Status.String(),
			AssignedAt:  rec.AssignedAt.Format(time.RFC3339Nano),
		})
	}
	return out, nil
}

// ────────────────────── GetItem ──────────────────────

func (s *assignmentService) GetItem(ctx context.Context, key model.ItemKey) (*dto.WorkItemResponse, error) {
	item, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return toWorkItemResponse(item), nil
}

// ────────────────────── AssignItem ──────────────────────

// AssignItem 非强制分配只能领取未分配的草稿；已由本人持有时幂等返回
func (s *assignmentService) AssignItem(ctx context.Context, key model.ItemKey, req *dto.AssignItemRequest, actor assignment.Actor) (*dto.WorkItemResponse, error) {
	target := req.UserID
	if target == "" {
		target = actor.UserID
	}

	if req.Force {
		item, err := s.core.Takeover.ForceAssign(ctx, key, target, actor)
		if err != nil {
			return nil, s.mapStoreErr(err)
		}
		return toWorkItemResponse(item), nil
	}

	// 替他人领取需要特权角色
	if target != actor.UserID {
		if err := s.core.Takeover.Authorize(actor.Roles); err != nil {
			return nil, err
		}
	}

	// 未携带令牌时，读写之间的并发变更不算客户端过期：重读一次，按最新状态重试
	attempts := 1
	if req.ETag == "" {
		attempts = 2
	}
	for i := 1; ; i++ {
		item, cls, err := s.tryClaim(ctx, key, target, req.ETag)
		if err != nil {
			return nil, err
		}
		if item != nil {
			s.core.Index.Materialize(ctx, item)
			return toWorkItemResponse(item), nil
		}
		if req.ETag != "" || cls.Kind == assignment.KindAlreadyHeldByOther {
			return nil, cls.Err()
		}
		if i < attempts {
			continue
		}
		if cls.Reason == assignment.Gone {
			return nil, ErrItemNotFound
		}
		return nil, ErrNotAssignable
	}
}

// tryClaim 读取并尝试领取一次；发生冲突时返回分类结果而非错误
func (s *assignmentService) tryClaim(ctx context.Context, key model.ItemKey, target, clientETag string) (*model.WorkItem, assignment.Classification, error) {
	cur, err := s.read(ctx, key)
	if err != nil {
		return nil, assignment.Classification{}, err
	}
	if cur.Status != model.StatusDraft {
		return nil, assignment.Classification{}, ErrNotAssignable
	}
	if holder := cur.Holder(); holder != "" {
		if holder == target {
			return cur, assignment.Classification{}, nil
		}
		return nil, assignment.Classification{}, heldError(cur)
	}

	etag := clientETag
	if etag == "" {
		etag = cur.ETag
	}
	item, err := s.core.Guard.Write(ctx, key, etag, model.ClaimPatch(target, time.Now()))
	if err == nil {
		return item, assignment.Classification{}, nil
	}
	var conflict *assignment.ConflictError
	if !errors.As(err, &conflict) {
		return nil, assignment.Classification{}, err
	}
	cls, err := s.core.Resolver.Classify(ctx, conflict, target)
	if err != nil {
		return nil, assignment.Classification{}, err
	}
	// 本人此前的领取已经生效
	if cls.Kind == assignment.KindStaleWrite && cls.Reason == assignment.StaleSelf {
		return cls.Current, cls, nil
	}
	return nil, cls, nil
}

// ────────────────────── UpdateItem ──────────────────────

// UpdateItem 合并内容并按状态转换表变更状态；释放类状态会清除持有人并删除索引记录
func (s *assignmentService) UpdateItem(ctx context.Context, key model.ItemKey, req *dto.UpdateItemRequest, actor assignment.Actor) (*dto.WorkItemResponse, error) {
	if req.ETag == "" {
		return nil, ErrETagRequired
	}
	if req.Status == nil && len(req.Content) == 0 {
		return nil, ErrEmptyUpdate
	}

	cur, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	// 他人持有的条目只有特权角色可以编辑
	if cur.IsHeld() && cur.Holder() != actor.UserID {
		if s.core.Takeover.Authorize(actor.Roles) != nil {
			return nil, heldError(cur)
		}
	}

	patch := model.Patch{Content: req.Content, UpdatedBy: actor.UserID, At: time.Now()}
	if req.Status != nil {
		to, err := model.ParseItemStatus(*req.Status)
		if err != nil {
			return nil, ErrInvalidTransition
		}
		if to != cur.Status {
			if !model.CanTransition(cur.Status, to) {
				return nil, ErrInvalidTransition
			}
			patch.Status = &to
			if to.ReleasesAssignment() {
				patch.Assignee = &model.AssigneeChange{}
			}
		}
	}
	if patch.IsEmpty() {
		return toWorkItemResponse(cur), nil
	}

	item, err := s.core.Guard.Write(ctx, key, req.ETag, patch)
	if err != nil {
		var conflict *assignment.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		cls, cerr := s.core.Resolver.Classify(ctx, conflict, actor.UserID)
		if cerr != nil {
			return nil, cerr
		}
		return nil, cls.Err()
	}

	prior := cur.Holder()
	switch {
	case item.IsHeld():
		s.core.Index.Materialize(ctx, item)
	case prior != "":
		s.core.Index.Retire(ctx, prior, key)
	}
	return toWorkItemResponse(item), nil
}

// ────────────────────── ClearAssignment ──────────────────────

func (s *assignmentService) ClearAssignment(ctx context.Context, key model.ItemKey, actor assignment.Actor) (*dto.WorkItemResponse, error) {
	item, err := s.core.Takeover.ForceClear(ctx, key, actor)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	return toWorkItemResponse(item), nil
}

// ────────────────────── Reconcile ──────────────────────

// Reconcile 先重放补偿队列，再执行一次清理扫描；单条失败记录在响应中
func (s *assignmentService) Reconcile(ctx context.Context, actor assignment.Actor) (*dto.ReconcileResponse, error) {
	if err := s.core.Takeover.Authorize(actor.Roles); err != nil {
		return nil, err
	}

	resp := &dto.ReconcileResponse{}
	replayed, err := s.core.Index.RetryPending(ctx)
	resp.Replayed = replayed
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
	}

	report, err := s.core.Reconciler.Run(ctx)
	resp.Scanned = report.Scanned
	resp.Removed = report.Removed
	resp.Created = report.Created
	resp.Refreshed = report.Refreshed
	resp.DurationMS = report.Duration.Milliseconds()
	if err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			s.logger.Error("索引清理失败", zap.Error(err))
			return nil, err
		}
		for _, e := range merr.Errors {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}

	s.logger.Info("手动执行索引清理", zap.String("operator", actor.UserID), zap.Int("errors", len(resp.Errors)))
	return resp, nil
}

// ────────────────────── ImportItems ──────────────────────

// ImportItems 导入未分配草稿；已存在的条目跳过，不覆盖
func (s *assignmentService) ImportItems(ctx context.Context, req *dto.ImportItemsRequest, actor assignment.Actor) (*dto.ImportItemsResponse, error) {
	if err := s.core.Takeover.Authorize(actor.Roles); err != nil {
		return nil, err
	}

	resp := &dto.ImportItemsResponse{Keys: make([]string, 0, len(req.Items))}
	now := time.Now().UTC()
	for _, in := range req.Items {
		item := &model.WorkItem{
			DatasetName: in.DatasetName,
			Bucket:      s.bucketFor(in),
			ID:          in.ID,
			Status:      model.StatusDraft,
			Content:     in.Content,
		}
		if err := item.Key().Validate(); err != nil {
			return nil, err
		}
		if actor.UserID != "" {
			by := actor.UserID
			item.UpdatedBy = &by
		}
		item.CreatedAt = now
		item.UpdatedAt = now

		created, err := s.core.Repo.Create(ctx, item)
		switch {
		case errors.Is(err, pkgerrors.ErrAlreadyExists):
			resp.Skipped++
			continue
		case err != nil:
			s.logger.Error("导入条目失败", zap.String("item", item.Key().String()), zap.Error(err))
			return nil, err
		}
		resp.Created++
		resp.Keys = append(resp.Keys, created.Key().String())
	}

	s.logger.Info("导入条目完成",
		zap.String("operator", actor.UserID),
		zap.Int("created", resp.Created),
		zap.Int("skipped", resp.Skipped),
	)
	return resp, nil
}

// bucketFor 未指定分区时按 ID 哈希，同一 ID 总落在同一分区
func (s *assignmentService) bucketFor(in dto.ImportItem) int {
	if in.Bucket != nil {
		return *in.Bucket
	}
	return int(xxh3.HashString(in.ID) % uint64(s.buckets))
}

// ── 内部辅助 ──

func (s *assignmentService) read(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	item, err := s.core.Guard.Read(ctx, key)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	return item, nil
}

func (s *assignmentService) mapStoreErr(err error) error {
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return ErrItemNotFound
	}
	return err
}

func heldError(item *model.WorkItem) error {
	e := &assignment.AlreadyHeldError{Key: item.Key(), HeldBy: item.Holder()}
	if item.AssignedAt != nil {
		e.HeldSince = *item.AssignedAt
	}
	return e
}

func toWorkItemResponse(item *model.WorkItem) *dto.WorkItemResponse {
	resp := &dto.WorkItemResponse{
		ItemKey:     item.Key().String(),
		DatasetName: item.DatasetName,
		Bucket:      item.Bucket,
		ID:          item.ID,
		Status:      item.Status.String(),
		AssignedTo:  item.Holder(),
		Content:     item.Content,
		UpdatedAt:   item.UpdatedAt.Format(time.RFC3339Nano),
		ETag:        item.ETag,
	}
	if item.AssignedAt != nil {
		resp.AssignedAt = item.AssignedAt.Format(time.RFC3339Nano)
	}
	if item.UpdatedBy != nil {
		resp.UpdatedBy = *item.UpdatedBy
	}
	return resp
}
