package model

import (
	"time"

	"gorm.io/datatypes"
)

// WorkItem 待审核的问答条目 — 对应 work_items
// 核心只读写 Status / AssignedTo / AssignedAt 与并发令牌，Content 对核心不透明
type WorkItem struct {
	DatasetName string            `gorm:"column:dataset_name;type:varchar(128);primaryKey" json:"dataset_name"`
	Bucket      int               `gorm:"column:bucket;primaryKey"                         json:"bucket"`
	ID          string            `gorm:"column:item_id;type:varchar(256);primaryKey"      json:"id"`
	Status      ItemStatus        `gorm:"type:varchar(20);not null;default:'draft'"        json:"status"`
	AssignedTo  *string           `gorm:"type:varchar(128);index"                          json:"assigned_to,omitempty"`
	AssignedAt  *time.Time        `json:"assigned_at,omitempty"`
	Content     datatypes.JSONMap `gorm:"type:jsonb"                                       json:"content,omitempty"`
	UpdatedBy   *string           `gorm:"type:varchar(128)"                                json:"updated_by,omitempty"`
	VersionedModel

	// ETag 存储原生的并发令牌（版本号或 KV revision），不随文档持久化
	ETag string `gorm:"-" json:"-"`
}

// TableName 指定表名
func (WorkItem) TableName() string { return "work_items" }

// Key 返回复合主键
func (w *WorkItem) Key() ItemKey {
	return ItemKey{DatasetName: w.DatasetName, Bucket: w.Bucket, ID: w.ID}
}

// Holder 当前持有人，未分配时返回空串
func (w *WorkItem) Holder() string {
	if w.AssignedTo == nil {
		return ""
	}
	return *w.AssignedTo
}

// IsHeld 草稿且已分配即为被占用
func (w *WorkItem) IsHeld() bool {
	return w.Status == StatusDraft && w.Holder() != ""
}

// IsClaimable 自助领取只面向未分配的草稿条目
func (w *WorkItem) IsClaimable() bool {
	return w.Status == StatusDraft && w.Holder() == ""
}

// Clone 深拷贝，供读-改-写路径在内存副本上应用变更
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	if w.AssignedTo != nil {
		v := *w.AssignedTo
		c.AssignedTo = &v
	}
	if w.AssignedAt != nil {
		v := *w.AssignedAt
		c.AssignedAt = &v
	}
	if w.UpdatedBy != nil {
		v := *w.UpdatedBy
		c.UpdatedBy = &v
	}
	if w.Content != nil {
		c.Content = make(datatypes.JSONMap, len(w.Content))
		for k, v := range w.Content {
			c.Content[k] = v
		}
	}
	return &c
}
