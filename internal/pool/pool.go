// ============================================================================
// PTIDES Event Pool - 固定容量事件儲存
// ============================================================================
//
// Package: internal/pool
// 文件: pool.go
// 功能: 為正在流動的事件提供不需動態配置的固定容量儲存
//
// 設計:
//   - slots 是固定長度陣列，每個 slot 帶一個 generation 計數器
//   - Allocate 從上次配置的位置開始做環狀掃描，找到第一個空閒 slot
//   - Handle = (index, generation)，slot 釋放時 generation 加一，
//     舊的 Handle 立刻失效，重複釋放或釋放後使用都會回傳 ErrStaleHandle
//
// 並發:
//   Pool 本身不加鎖。呼叫者（scheduler）必須在關閉中斷的臨界區內呼叫。
//
// ============================================================================

package pool

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

var (
	// ErrExhausted 沒有空閒 slot（容量規劃錯誤，屬於致命錯誤）
	ErrExhausted = errors.New("event pool exhausted")
	// ErrStaleHandle Handle 指向已釋放或已被重新配置的 slot
	ErrStaleHandle = errors.New("stale event handle")
)

// Handle 指向一個使用中的 slot
type Handle struct {
	index uint32
	gen   uint32
}

// Index returns the slot index the handle refers to.
func (h Handle) Index() int { return int(h.index) }

func (h Handle) String() string {
	return fmt.Sprintf("slot %d/gen %d", h.index, h.gen)
}

type slot struct {
	event types.Event
	gen   uint32
	inUse bool
}

// Pool 固定容量的事件池
type Pool struct {
	slots []slot
	next  int // 環狀掃描起點
	inUse int
}

// New 建立容量為 capacity 的事件池
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{slots: make([]slot, capacity)}
}

// Allocate 配置一個 slot 並存入 ev
func (p *Pool) Allocate(ev types.Event) (Handle, error) {
	n := len(p.slots)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		s := &p.slots[idx]
		if s.inUse {
			continue
		}
		s.inUse = true
		s.event = ev
		p.inUse++
		p.next = (idx + 1) % n
		return Handle{index: uint32(idx), gen: s.gen}, nil
	}
	return Handle{}, fmt.Errorf("%w: capacity %d", ErrExhausted, n)
}

// Release 釋放 slot；每個 Handle 只能成功釋放一次
func (p *Pool) Release(h Handle) error {
	s, err := p.lookup(h)
	if err != nil {
		return err
	}
	s.inUse = false
	s.event = types.Event{}
	s.gen++
	p.inUse--
	return nil
}

// Get returns a copy of the event stored under h.
func (p *Pool) Get(h Handle) (types.Event, error) {
	s, err := p.lookup(h)
	if err != nil {
		return types.Event{}, err
	}
	return s.event, nil
}

// Set overwrites the event stored under h. Used by mutate-and-forward.
func (p *Pool) Set(h Handle, ev types.Event) error {
	s, err := p.lookup(h)
	if err != nil {
		return err
	}
	s.event = ev
	return nil
}

// InUse 目前使用中的 slot 數
func (p *Pool) InUse() int { return p.inUse }

// Cap 池的容量
func (p *Pool) Cap() int { return len(p.slots) }

func (p *Pool) lookup(h Handle) (*slot, error) {
	if int(h.index) >= len(p.slots) {
		return nil, fmt.Errorf("%w: %s out of range", ErrStaleHandle, h)
	}
	s := &p.slots[h.index]
	if !s.inUse || s.gen != h.gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}
