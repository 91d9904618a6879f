package report

import (
	"sync"

	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// MissLog 保留最近 N 筆錯過的截止時間
type MissLog struct {
	scheduler.NopObserver

	mu    sync.Mutex
	buf   []types.DeadlineMiss
	next  int
	full  bool
	total uint64
}

// NewMissLog 建立容量為 n 的環形緩衝（n <= 0 時為 16）
func NewMissLog(n int) *MissLog {
	if n <= 0 {
		n = 16
	}
	return &MissLog{buf: make([]types.DeadlineMiss, n)}
}

func (l *MissLog) OnMiss(m types.DeadlineMiss) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = m
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Recent 由舊到新
func (l *MissLog) Recent() []types.DeadlineMiss {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]types.DeadlineMiss, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]types.DeadlineMiss, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

// Total 累計次數
func (l *MissLog) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
