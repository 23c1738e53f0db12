package model

import "time"

// AssignmentRecord 按用户分区的分配二级索引 — 对应 assignment_records
// 派生数据，允许与 WorkItem 短暂不一致，不可作为单一持有人判断依据
type AssignmentRecord struct {
	UserID      string     `gorm:"type:varchar(128);primaryKey"                json:"user_id"`
	DatasetName string     `gorm:"column:dataset_name;type:varchar(128);primaryKey" json:"dataset_name"`
	Bucket      int        `gorm:"column:bucket;primaryKey"                    json:"bucket"`
	ItemID      string     `gorm:"column:item_id;type:varchar(256);primaryKey" json:"item_id"`
	Status      ItemStatus `gorm:"type:varchar(20);not null"                   json:"status"`
	AssignedAt  time.Time  `gorm:"not null"                                    json:"assigned_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"          json:"updated_at"`
}

// TableName 指定表名
func (AssignmentRecord) TableName() string { return "assignment_records" }

// ItemKey 反向引用的条目主键
func (r *AssignmentRecord) ItemKey() ItemKey {
	return ItemKey{DatasetName: r.DatasetName, Bucket: r.Bucket, ID: r.ItemID}
}

// NewAssignmentRecord 由已被持有的条目派生索引记录
func NewAssignmentRecord(item *WorkItem) AssignmentRecord {
	rec := AssignmentRecord{
		UserID:      item.Holder(),
		DatasetName: item.DatasetName,
		Bucket:      item.Bucket,
		ItemID:      item.ID,
		Status:      item.Status,
		UpdatedAt:   time.Now(),
	}
	if item.AssignedAt != nil {
		rec.AssignedAt = *item.AssignedAt
	}
	return rec
}

// Matches 索引记录是否与条目当前状态一致
func (r *AssignmentRecord) Matches(item *WorkItem) bool {
	if !item.IsHeld() || item.Holder() != r.UserID || r.Status != item.Status {
		return false
	}
	if item.AssignedAt == nil {
		return false
	}
	return r.AssignedAt.Equal(*item.AssignedAt)
}
