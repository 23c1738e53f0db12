package model

import "time"

// Patch 一次条件写入要变更的字段，nil 字段保持不变
type Patch struct {
	Status   *ItemStatus
	Assignee *AssigneeChange
	// Content 浅合并到现有内容，值为 nil 的键写入 null
	Content   map[string]any
	UpdatedBy string
	At        time.Time
}

// AssigneeChange UserID 为空表示清除持有人
type AssigneeChange struct {
	UserID string
}

// ClaimPatch 领取：设置持有人，状态保持草稿
func ClaimPatch(userID string, at time.Time) Patch {
	return Patch{
		Assignee:  &AssigneeChange{UserID: userID},
		UpdatedBy: userID,
		At:        at,
	}
}

// TakeoverPatch 强制接管：无论当前状态，一次写入中重置为草稿并设置新持有人
func TakeoverPatch(userID, operator string, at time.Time) Patch {
	draft := StatusDraft
	return Patch{
		Status:    &draft,
		Assignee:  &AssigneeChange{UserID: userID},
		UpdatedBy: operator,
		At:        at,
	}
}

// ClearPatch 强制释放：回到未分配的草稿
func ClearPatch(operator string, at time.Time) Patch {
	draft := StatusDraft
	return Patch{
		Status:    &draft,
		Assignee:  &AssigneeChange{},
		UpdatedBy: operator,
		At:        at,
	}
}

// IsEmpty 没有任何字段变更
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.Assignee == nil && len(p.Content) == 0
}

// Apply 在内存副本上应用变更（读-改-写路径与内存存储使用）
func (p Patch) Apply(item *WorkItem) {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Assignee != nil {
		if p.Assignee.UserID == "" {
			item.AssignedTo = nil
			item.AssignedAt = nil
		} else {
			user := p.Assignee.UserID
			assignedAt := at
			item.AssignedTo = &user
			item.AssignedAt = &assignedAt
		}
	}
	if len(p.Content) > 0 {
		if item.Content == nil {
			item.Content = make(map[string]interface{}, len(p.Content))
		}
		for k, v := range p.Content {
			item.Content[k] = v
		}
	}
	if p.UpdatedBy != "" {
		by := p.UpdatedBy
		item.UpdatedBy = &by
	}
	item.UpdatedAt = at
}
