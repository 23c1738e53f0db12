package model

import "time"

// BaseModel 通用审计字段（所有持久化模型嵌入）
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// VersionedModel 支持乐观锁的模型，Version 为逻辑版本号
type VersionedModel struct {
	BaseModel
	Version int64 `gorm:"not null;default:1" json:"-"`
}
