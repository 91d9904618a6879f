// ============================================================================
// PTIDES Event Queue - 依標籤排序的待處理佇列
// ============================================================================
//
// Package: internal/queue
// 文件: queue.go
// 功能: 以 OrderTag 遞增排序的單向鏈結串列
//
// 排序規則:
//   (OrderTag.Timestamp, OrderTag.Microstep) 字典序遞增；
//   標籤完全相同時維持插入順序（FIFO）。
//   插入：從 head 線性掃描，插在第一個 OrderTag 嚴格大於新事件的元素之前。
//
// 儲存:
//   節點就是 pool slot，next 指標存在以 slot index 為鍵的平行陣列中，
//   因此插入與移除都不需要任何記憶體配置。
//
// 並發:
//   與 pool 相同，必須在 scheduler 的臨界區內呼叫。
//
// ============================================================================

package queue

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/ptides-os/internal/pool"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// ErrAlreadyQueued 同一個 slot 不能同時出現在佇列兩次
var ErrAlreadyQueued = errors.New("event already queued")

const nilLink = -1

// Queue 依標籤排序的事件佇列
type Queue struct {
	pool    *pool.Pool
	head    int
	next    []int
	handles []pool.Handle
	queued  []bool
	length  int
}

// New 建立綁定到 p 的佇列
func New(p *pool.Pool) *Queue {
	n := p.Cap()
	q := &Queue{
		pool:    p,
		head:    nilLink,
		next:    make([]int, n),
		handles: make([]pool.Handle, n),
		queued:  make([]bool, n),
	}
	for i := range q.next {
		q.next[i] = nilLink
	}
	return q
}

// Insert 依 OrderTag 將事件插入佇列
func (q *Queue) Insert(h pool.Handle) error {
	ev, err := q.pool.Get(h)
	if err != nil {
		return err
	}
	idx := h.Index()
	if q.queued[idx] {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, h)
	}

	prev := nilLink
	cur := q.head
	for cur != nilLink {
		other, err := q.pool.Get(q.handles[cur])
		if err != nil {
			return err
		}
		if ev.OrderTag.Less(other.OrderTag) {
			break
		}
		prev = cur
		cur = q.next[cur]
	}

	q.handles[idx] = h
	q.queued[idx] = true
	q.next[idx] = cur
	if prev == nilLink {
		q.head = idx
	} else {
		q.next[prev] = idx
	}
	q.length++
	return nil
}

// PeekEarliest 回傳（不移除）OrderTag 最小的事件
func (q *Queue) PeekEarliest() (pool.Handle, bool) {
	if q.head == nilLink {
		return pool.Handle{}, false
	}
	return q.handles[q.head], true
}

// RemoveEarliest 移除並回傳 OrderTag 最小的事件
func (q *Queue) RemoveEarliest() (pool.Handle, bool) {
	if q.head == nilLink {
		return pool.Handle{}, false
	}
	idx := q.head
	h := q.handles[idx]
	q.head = q.next[idx]
	q.next[idx] = nilLink
	q.queued[idx] = false
	q.length--
	return h, true
}

// Len 佇列長度
func (q *Queue) Len() int { return q.length }

// Events returns a copy of the queued events in dispatch order.
func (q *Queue) Events() []types.Event {
	out := make([]types.Event, 0, q.length)
	for cur := q.head; cur != nilLink; cur = q.next[cur] {
		ev, err := q.pool.Get(q.handles[cur])
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
