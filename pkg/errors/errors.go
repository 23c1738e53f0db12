package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrNotFound 文档不存在
var ErrNotFound = errors.New("记录不存在")

// ErrAlreadyExists 创建时主键已存在
var ErrAlreadyExists = errors.New("记录已存在")

// ErrTransient 存储层瞬时故障（网络、超时），可有限次重试
var ErrTransient = errors.New("存储暂时不可用")
