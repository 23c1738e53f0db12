package dto

// ── 领取分配模块 DTO ──

// SelfServeRequest 自助领取请求
type SelfServeRequest struct {
	Count   int                `json:"count"   binding:"required,min=1"`
	Weights map[string]float64 `json:"weights"` // 可选：按数据集比例抽取候选
}

// AssignItemRequest 指定条目分配请求
type AssignItemRequest struct {
	UserID string `json:"user_id"` // 为空时分配给调用者
	Force  bool   `json:"force"`   // 强制接管，需要特权角色
	ETag   string `json:"etag"`    // 可选：客户端持有的并发令牌
}

// UpdateItemRequest 条目更新请求；ETag 也可通过 If-Match 头传入
type UpdateItemRequest struct {
	ETag    string                 `json:"etag"`
	Status  *string                `json:"status"  binding:"omitempty,oneof=draft approved skipped deleted"`
	Content map[string]interface{} `json:"content"`
}

// ImportItem 导入的单个条目，Bucket 为空时由 ID 哈希得出
type ImportItem struct {
	DatasetName string                 `json:"dataset_name" yaml:"dataset_name" binding:"required,max=128,excludes=/"`
	Bucket      *int                   `json:"bucket"       yaml:"bucket"       binding:"omitempty,min=0"`
	ID          string                 `json:"id"           yaml:"id"           binding:"required,max=256,excludes=/"`
	Content     map[string]interface{} `json:"content"      yaml:"content"`
}

// ImportItemsRequest 批量导入未分配草稿
type ImportItemsRequest struct {
	Items []ImportItem `json:"items" yaml:"items" binding:"required,min=1,max=1000,dive"`
}

// ── 领取分配模块响应 ──

// SelfServeResponse 自助领取结果，数量不足不是错误
type SelfServeResponse struct {
	ClaimedItemKeys []string `json:"claimed_item_keys"`
	ClaimedCount    int      `json:"claimed_count"`
	Requested       int      `json:"requested"`
	Attempts        int      `json:"attempts"`
	Collisions      int      `json:"collisions"`
}

// WorkItemResponse 条目详情
type WorkItemResponse struct {
	ItemKey     string                 `json:"item_key"`
	DatasetName string                 `json:"dataset_name"`
	Bucket      int                    `json:"bucket"`
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	AssignedTo  string                 `json:"assigned_to,omitempty"`
	AssignedAt  string                 `json:"assigned_at,omitempty"`
	Content     map[string]interface{} `json:"content,omitempty"`
	UpdatedBy   string                 `json:"updated_by,omitempty"`
	UpdatedAt   string                 `json:"updated_at"`
	ETag        string                 `json:"etag"`
}

// AssignmentResponse 用户分配列表项
type AssignmentResponse struct {
	ItemKey     string `json:"item_key"`
	DatasetName string `json:"dataset_name"`
	Bucket      int    `json:"bucket"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	AssignedAt  string `json:"assigned_at"`
}

// AlreadyHeldResponse 409 时返回的持有人信息
type AlreadyHeldResponse struct {
	HeldBy    string `json:"held_by"`
	HeldSince string `json:"held_since,omitempty"`
}

// ImportItemsResponse 导入结果
type ImportItemsResponse struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"` // 已存在的条目
	Keys    []string `json:"keys"`
}

// ReconcileResponse 索引清理结果
type ReconcileResponse struct {
	Replayed   int      `json:"replayed"`
	Scanned    int      `json:"scanned"`
	Removed    int      `json:"removed"`
	Created    int      `json:"created"`
	Refreshed  int      `json:"refreshed"`
	DurationMS int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}
