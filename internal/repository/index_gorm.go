package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

// ── PostgreSQL 分配索引 ──

type gormIndexStore struct {
	db *gorm.DB
}

func NewGormIndexStore(db *gorm.DB) IndexStore {
	return &gormIndexStore{db: db}
}

// Put 以主键 upsert，重复写入幂等
func (r *gormIndexStore) Put(ctx context.Context, rec model.AssignmentRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "dataset_name"}, {Name: "bucket"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "assigned_at", "updated_at"}),
		}).
		Create(&rec).Error
	return classifyGormErr("写入分配记录", err)
}

func (r *gormIndexStore) Delete(ctx context.Context, userID string, key model.ItemKey) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND dataset_name = ? AND bucket = ? AND item_id = ?", userID, key.DatasetName, key.Bucket, key.ID).
		Delete(&model.AssignmentRecord{}).Error
	return classifyGormErr("删除分配记录", err)
}

func (r *gormIndexStore) ListByUser(ctx context.Context, userID string) ([]model.AssignmentRecord, error) {
	var recs []model.AssignmentRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("assigned_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, classifyGormErr("查询分配记录", err)
	}
	return recs, nil
}

func (r *gormIndexStore) ListAll(ctx context.Context) ([]model.AssignmentRecord, error) {
	var recs []model.AssignmentRecord
	if err := r.db.WithContext(ctx).Order("user_id, assigned_at").Find(&recs).Error; err != nil {
		return nil, classifyGormErr("查询分配记录", err)
	}
	return recs, nil
}
