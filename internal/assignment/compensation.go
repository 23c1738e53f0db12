package assignment

import (
	"sync"
	"time"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
)

type actionKind uint8

const (
	actionPut actionKind = iota + 1
	actionDelete
)

func (k actionKind) String() string {
	if k == actionPut {
		return "put"
	}
	return "delete"
}

// compensation 一次失败的索引写入，等待重放
type compensation struct {
	kind     actionKind
	rec      model.AssignmentRecord // actionPut
	userID   string
	key      model.ItemKey
	attempts int
	queuedAt time.Time
}

type compKey struct {
	userID string
	key    model.ItemKey
}

func (c compensation) id() compKey {
	return compKey{userID: c.userID, key: c.key}
}

// compensationQueue 有界补偿队列
// 同一 (用户, 条目) 只保留最新一次动作；队满时丢弃最旧的动作，由清理扫描兜底
type compensationQueue struct {
	mu       sync.Mutex
	order    []compKey
	actions  map[compKey]compensation
	capacity int
}

func newCompensationQueue(capacity int) *compensationQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &compensationQueue{
		actions:  make(map[compKey]compensation),
		capacity: capacity,
	}
}

// push 入队并返回因容量被挤出的动作
func (q *compensationQueue) push(c compensation) (dropped *compensation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := c.id()
	if _, ok := q.actions[id]; ok {
		q.removeLocked(id)
	}
	if len(q.order) >= q.capacity {
		oldest := q.order[0]
		d := q.actions[oldest]
		dropped = &d
		q.removeLocked(oldest)
	}
	q.order = append(q.order, id)
	q.actions[id] = c
	return dropped
}

// cancel 新的写入成功后撤销同一 (用户, 条目) 的旧动作
func (q *compensationQueue) cancel(userID string, key model.ItemKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(compKey{userID: userID, key: key})
}

func (q *compensationQueue) removeLocked(id compKey) {
	if _, ok := q.actions[id]; !ok {
		return
	}
	delete(q.actions, id)
	for i, k := range q.order {
		if k == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// drain 按入队顺序取出全部动作
func (q *compensationQueue) drain() []compensation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]compensation, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.actions[id])
	}
	q.order = nil
	q.actions = make(map[compKey]compensation)
	return out
}

// requeue 重放失败的动作放回队列，期间已有更新动作时放弃旧动作
func (q *compensationQueue) requeue(c compensation) (dropped *compensation) {
	q.mu.Lock()
	_, superseded := q.actions[c.id()]
	q.mu.Unlock()
	if superseded {
		return nil
	}
	return q.push(c)
}

func (q *compensationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
