// Package assignment 领取分配与乐观并发控制核心
//
// 存储只提供单文档原子写入。所有会改变持有人的写入都携带读取时的并发令牌，
// 由存储原子地比较后提交，以此保证任一条目同一时刻至多一个有效持有人。
package assignment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

var (
	ErrConflict       = errors.New("并发令牌不匹配")
	ErrAlreadyHeld    = errors.New("条目已被他人持有")
	ErrStaleWrite     = errors.New("并发令牌已过期，请刷新后重试")
	ErrPermission     = errors.New("无权执行强制分配")
	ErrTransientStore = errors.New("存储暂时不可用，请稍后重试")
	ErrEmptyMutation  = errors.New("写入内容为空")
	ErrInvalidUser    = errors.New("用户标识不能为空")
	ErrInvalidCount   = errors.New("领取数量必须大于 0")
	ErrInvalidWeights = errors.New("数据集权重不能为负数")
)

// ConflictError 条件写入时令牌不匹配，由 ConflictResolver 进一步分类
type ConflictError struct {
	Key          model.ItemKey
	ExpectedETag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("条目 %s 令牌冲突（期望 %s）", e.Key, e.ExpectedETag)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AlreadyHeldError 条目正由其他用户持有（409）
type AlreadyHeldError struct {
	Key       model.ItemKey
	HeldBy    string
	HeldSince time.Time
}

func (e *AlreadyHeldError) Error() string {
	return fmt.Sprintf("条目 %s 已被 %s 持有", e.Key, e.HeldBy)
}

func (e *AlreadyHeldError) Is(target error) bool {
	return target == ErrAlreadyHeld
}

// StaleWriteError 客户端令牌已过期（412）
type StaleWriteError struct {
	Key         model.ItemKey
	Reason      StaleReason
	CurrentETag string
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("条目 %s 令牌已过期（%s）", e.Key, e.Reason)
}

func (e *StaleWriteError) Is(target error) bool {
	return target == ErrStaleWrite
}

// PermissionError 角色集合不包含任何特权角色（403）
type PermissionError struct {
	Required []string
}

func (e *PermissionError) Error() string {
	return "需要以下角色之一: " + strings.Join(e.Required, ", ")
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

// TransientStoreError 有限次重试后仍失败的存储故障（503）
type TransientStoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s 在 %d 次尝试后失败: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientStoreError) Is(target error) bool {
	return target == ErrTransientStore
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}
