package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ItemStatus 条目状态（封闭枚举，零值非法）
type ItemStatus uint8

const (
	StatusDraft ItemStatus = iota + 1
	StatusApproved
	StatusSkipped
	StatusDeleted
)

// String 返回持久化使用的字符串形式
func (s ItemStatus) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusApproved:
		return "approved"
	case StatusSkipped:
		return "skipped"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("ItemStatus(%d)", uint8(s))
	}
}

// Valid 是否为已定义的状态
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusSkipped, StatusDeleted:
		return true
	default:
		return false
	}
}

// Terminal 终态条目不再参与自助领取
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeleted:
		return true
	case StatusDraft, StatusSkipped:
		return false
	default:
		return false
	}
}

// ParseItemStatus 将字符串解析为 ItemStatus
func ParseItemStatus(v string) (ItemStatus, error) {
	switch v {
	case "draft":
		return StatusDraft, nil
	case "approved":
		return StatusApproved, nil
	case "skipped":
		return StatusSkipped, nil
	case "deleted":
		return StatusDeleted, nil
	default:
		return 0, fmt.Errorf("未知条目状态 %q", v)
	}
}

// CanTransition 普通编辑路径允许的状态迁移；强制接管不经过此表
func CanTransition(from, to ItemStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusDraft:
		switch to {
		case StatusApproved, StatusSkipped, StatusDeleted:
			return true
		}
		return false
	case StatusSkipped:
		switch to {
		case StatusDraft, StatusDeleted:
			return true
		}
		return false
	case StatusApproved, StatusDeleted:
		return false
	default:
		return false
	}
}

// ReleasesAssignment 迁移到该状态时是否释放持有人
func (s ItemStatus) ReleasesAssignment() bool {
	switch s {
	case StatusSkipped, StatusDeleted:
		return true
	case StatusDraft, StatusApproved:
		return false
	default:
		return false
	}
}

func (s ItemStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("无法序列化非法状态 %d", uint8(s))
	}
	return json.Marshal(s.String())
}

func (s *ItemStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseItemStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s ItemStatus) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *ItemStatus) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	parsed, err := ParseItemStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scan 实现 GORM Scanner，数据库中以 varchar 存储
func (s *ItemStatus) Scan(src interface{}) error {
	var v string
	switch t := src.(type) {
	case []byte:
		v = string(t)
	case string:
		v = t
	default:
		return fmt.Errorf("ItemStatus.Scan: unsupported type %T", src)
	}
	parsed, err := ParseItemStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value 实现 GORM Valuer
func (s ItemStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("ItemStatus.Value: invalid status %d", uint8(s))
	}
	return s.String(), nil
}
