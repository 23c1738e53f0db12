package repository

import (
	"context"
	"strconv"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

// ItemStore 条目文档存储：按主键读取、条件整体替换、查询候选
// 所有实现返回 pkgerrors.ErrNotFound / ErrOptimisticLock / ErrAlreadyExists / ErrTransient
type ItemStore interface {
	Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error)
	Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error)
	// ReplaceIfMatch 仅当存储中的令牌仍等于 etag 时整体替换文档
	ReplaceIfMatch(ctx context.Context, item *model.WorkItem, etag string) (*model.WorkItem, error)
	// ListCandidates 返回指定数据集中未分配的草稿条目（随机抽样，最多 Limit 条）
	ListCandidates(ctx context.Context, q CandidateQuery) ([]model.WorkItem, error)
	// ListDatasets 返回仍有可领取条目的数据集
	ListDatasets(ctx context.Context) ([]string, error)
	// ListHeld 返回所有被持有（草稿且已分配）的条目
	ListHeld(ctx context.Context) ([]model.WorkItem, error)
	CountHeldBy(ctx context.Context, userID string) (int, error)
}

// PatchStore 支持字段级条件更新的存储能力
type PatchStore interface {
	PatchIfMatch(ctx context.Context, key model.ItemKey, etag string, patch model.Patch) (*model.WorkItem, error)
}

// CandidateQuery 候选条目查询参数
type CandidateQuery struct {
	Dataset string
	Limit   int
}

// IndexStore 按用户分区的分配记录存储
type IndexStore interface {
	Put(ctx context.Context, rec model.AssignmentRecord) error
	Delete(ctx context.Context, userID string, key model.ItemKey) error
	ListByUser(ctx context.Context, userID string) ([]model.AssignmentRecord, error)
	ListAll(ctx context.Context) ([]model.AssignmentRecord, error)
}

// Repository 存储聚合入口
type Repository struct {
	Items ItemStore
	Index IndexStore
}

// versionETag 逻辑版本号形式的令牌
func versionETag(v int64) string {
	return strconv.FormatInt(v, 10)
}

// parseVersionETag 无法解析的令牌视为不匹配
func parseVersionETag(etag string) (int64, bool) {
	v, err := strconv.ParseInt(etag, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
