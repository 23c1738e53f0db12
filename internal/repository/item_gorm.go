package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ── PostgreSQL 条目存储 ──
// 并发令牌为 version 列，所有写入以 version 作为 WHERE 条件

type gormItemStore struct {
	db *gorm.DB
}

// NewGormItemStore 同时具备整体替换与字段级条件更新能力
func NewGormItemStore(db *gorm.DB) *gormItemStore {
	return &gormItemStore{db: db}
}

func pkWhere(key model.ItemKey) (string, []interface{}) {
	return "dataset_name = ? AND bucket = ? AND item_id = ?", []interface{}{key.DatasetName, key.Bucket, key.ID}
}

func (r *gormItemStore) Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	var item model.WorkItem
	where, args := pkWhere(key)
	if err := r.db.WithContext(ctx).Where(where, args...).First(&item).Error; err != nil {
		return nil, classifyGormErr("读取条目", err)
	}
	item.ETag = versionETag(item.Version)
	return &item, nil
}

func (r *gormItemStore) Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error) {
	row := item.Clone()
	row.Version = 1
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, classifyGormErr("创建条目", err)
	}
	row.ETag = versionETag(row.Version)
	return row, nil
}

// ReplaceIfMatch 条件整体替换：除主键外所有可变列一次写入
func (r *gormItemStore) ReplaceIfMatch(ctx context.Context, item *model.WorkItem, etag string) (*model.WorkItem, error) {
	oldVersion, ok := parseVersionETag(etag)
	if !ok {
		return nil, pkgerrors.ErrOptimisticLock
	}
	where, args := pkWhere(item.Key())
	result := r.db.WithContext(ctx).
		Model(&model.WorkItem{}).
		Where(where+" AND version = ?", append(args, oldVersion)...).
		Updates(map[string]interface{}{
			"status":      item.Status,
			"assigned_to": item.AssignedTo,
			"assigned_at": item.AssignedAt,
			"content":     item.Content,
			"updated_by":  item.UpdatedBy,
			"updated_at":  item.UpdatedAt,
			"version":     oldVersion + 1,
		})
	if result.Error != nil {
		return nil, classifyGormErr("替换条目", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.ErrOptimisticLock
	}
	out := item.Clone()
	out.Version = oldVersion + 1
	out.ETag = versionETag(out.Version)
	return out, nil
}

// PatchIfMatch 字段级条件更新，内容以 jsonb 浅合并，RETURNING 取回新行
func (r *gormItemStore) PatchIfMatch(ctx context.Context, key model.ItemKey, etag string, patch model.Patch) (*model.WorkItem, error) {
	oldVersion, ok := parseVersionETag(etag)
	if !ok {
		return nil, pkgerrors.ErrOptimisticLock
	}
	cols, err := patchColumns(patch)
	if err != nil {
		return nil, err
	}
	cols["version"] = gorm.Expr("version + 1")

	var rows []model.WorkItem
	where, args := pkWhere(key)
	result := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where(where+" AND version = ?", append(args, oldVersion)...).
		Updates(cols)
	if result.Error != nil {
		return nil, classifyGormErr("更新条目", result.Error)
	}
	if result.RowsAffected == 0 || len(rows) == 0 {
		return nil, pkgerrors.ErrOptimisticLock
	}
	out := rows[0]
	out.ETag = versionETag(out.Version)
	return &out, nil
}

func patchColumns(patch model.Patch) (map[string]interface{}, error) {
	at := patch.At
	cols := map[string]interface{}{"updated_at": at}
	if patch.Status != nil {
		cols["status"] = *patch.Status
	}
	if patch.Assignee != nil {
		if patch.Assignee.UserID == "" {
			cols["assigned_to"] = nil
			cols["assigned_at"] = nil
		} else {
			cols["assigned_to"] = patch.Assignee.UserID
			cols["assigned_at"] = at
		}
	}
	if len(patch.Content) > 0 {
		raw, err := json.Marshal(patch.Content)
		if err != nil {
			return nil, fmt.Errorf("序列化内容失败: %w", err)
		}
		cols["content"] = gorm.Expr("COALESCE(content, '{}'::jsonb) || ?::jsonb", string(raw))
	}
	if patch.UpdatedBy != "" {
		cols["updated_by"] = patch.UpdatedBy
	}
	return cols, nil
}

func (r *gormItemStore) ListCandidates(ctx context.Context, q CandidateQuery) ([]model.WorkItem, error) {
	var items []model.WorkItem
	// 随机抽样，避免并发领取者都从同一批条目开始竞争
	err := r.db.WithContext(ctx).
		Where("dataset_name = ? AND status = ? AND assigned_to IS NULL", q.Dataset, model.StatusDraft).
		Order("random()").
		Limit(q.Limit).
		Find(&items).Error
	if err != nil {
		return nil, classifyGormErr("查询候选条目", err)
	}
	for i := range items {
		items[i].ETag = versionETag(items[i].Version)
	}
	return items, nil
}

func (r *gormItemStore) ListDatasets(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&model.WorkItem{}).
		Where("status = ? AND assigned_to IS NULL", model.StatusDraft).
		Distinct().
		Order("dataset_name").
		Pluck("dataset_name", &names).Error
	if err != nil {
		return nil, classifyGormErr("查询数据集", err)
	}
	return names, nil
}

func (r *gormItemStore) ListHeld(ctx context.Context) ([]model.WorkItem, error) {
	var items []model.WorkItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND assigned_to IS NOT NULL", model.StatusDraft).
		Find(&items).Error
	if err != nil {
		return nil, classifyGormErr("查询已分配条目", err)
	}
	for i := range items {
		items[i].ETag = versionETag(items[i].Version)
	}
	return items, nil
}

func (r *gormItemStore) CountHeldBy(ctx context.Context, userID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.WorkItem{}).
		Where("status = ? AND assigned_to = ?", model.StatusDraft, userID).
		Count(&n).Error
	if err != nil {
		return 0, classifyGormErr("统计持有条目", err)
	}
	return int(n), nil
}
