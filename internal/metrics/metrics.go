// Package metrics 领取与并发控制的指标采集
package metrics

import "time"

// 条件写入结果
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Collector 核心组件依赖的指标接口，未启用时使用 Nop
type Collector interface {
	// RecordWrite 一次条件写入的结果与耗时，按写入策略区分
	RecordWrite(strategy, outcome string, d time.Duration)
	// RecordRetry 瞬时故障触发的重试
	RecordRetry(op string)
	// RecordConflict 冲突分类结果
	RecordConflict(kind string)
	// RecordSelfServe 一次自助领取的请求数、成功数与碰撞数
	RecordSelfServe(requested, claimed, collisions int)
	// RecordIndexFailure 索引写入失败（已进入补偿队列）
	RecordIndexFailure(op string)
	SetPendingCompensations(n int)
	RecordReconcile(removed, created, refreshed int)
}

// Nop 空实现
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) RecordWrite(string, string, time.Duration) {}
func (Nop) RecordRetry(string)                        {}
func (Nop) RecordConflict(string)                     {}
func (Nop) RecordSelfServe(int, int, int)             {}
func (Nop) RecordIndexFailure(string)                 {}
func (Nop) SetPendingCompensations(int)               {}
func (Nop) RecordReconcile(int, int, int)             {}
