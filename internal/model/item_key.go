package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidItemKey = errors.New("无效的条目标识")

// ItemKey 条目复合主键：DatasetName + Bucket 构成物理分区，ID 在分区内唯一
type ItemKey struct {
	DatasetName string `json:"dataset_name"`
	Bucket      int    `json:"bucket"`
	ID          string `json:"id"`
}

// String 形如 "ds/0/gt_1"
func (k ItemKey) String() string {
	return k.DatasetName + "/" + strconv.Itoa(k.Bucket) + "/" + k.ID
}

// Validate 校验各段非空且不含分隔符
func (k ItemKey) Validate() error {
	if k.DatasetName == "" || k.ID == "" {
		return fmt.Errorf("%w: dataset 与 id 不能为空", ErrInvalidItemKey)
	}
	if strings.Contains(k.DatasetName, "/") || strings.Contains(k.ID, "/") {
		return fmt.Errorf("%w: 不允许包含 '/'", ErrInvalidItemKey)
	}
	if k.Bucket < 0 {
		return fmt.Errorf("%w: bucket 不能为负数", ErrInvalidItemKey)
	}
	return nil
}

// ParseItemKey 解析 "dataset/bucket/id" 形式的字符串
func ParseItemKey(s string) (ItemKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return ItemKey{}, fmt.Errorf("%w: %q", ErrInvalidItemKey, s)
	}
	bucket, err := strconv.Atoi(parts[1])
	if err != nil {
		return ItemKey{}, fmt.Errorf("%w: bucket %q", ErrInvalidItemKey, parts[1])
	}
	k := ItemKey{DatasetName: parts[0], Bucket: bucket, ID: parts[2]}
	if err := k.Validate(); err != nil {
		return ItemKey{}, err
	}
	return k, nil
}
