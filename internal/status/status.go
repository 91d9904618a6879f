// Package status 輸出平台的診斷狀態行
//
// 狀態輸出不在時序關鍵路徑上：所有 Sink 都不回傳錯誤，
// 也不應阻塞呼叫者。
package status

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// 狀態行的位置（對應顯示器上的行號）
const (
	PositionSummary   = 0
	PositionActuation = 1
	PositionMiss      = 2
)

// Sink 接收狀態行
type Sink interface {
	WriteStatus(text string, position int)
}

// LogSink 寫到 slog
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) WriteStatus(text string, position int) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info(text, "position", position)
}

// WriterSink 以 "[position] text" 的格式寫到 io.Writer
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteStatus(text string, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "[%d] %s\n", position, text)
}

// Board 保留每個位置最後一行，並記錄所有寫入
type Board struct {
	mu    sync.Mutex
	lines map[int]string
	count map[int]int
}

func NewBoard() *Board {
	return &Board{lines: make(map[int]string), count: make(map[int]int)}
}

func (b *Board) WriteStatus(text string, position int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[position] = text
	b.count[position]++
}

// Line 位置上最後一行
func (b *Board) Line(position int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines[position]
}

// Count 位置上的寫入次數
func (b *Board) Count(position int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count[position]
}

// Multi 轉發給多個 Sink
type Multi []Sink

func (m Multi) WriteStatus(text string, position int) {
	for _, s := range m {
		s.WriteStatus(text, position)
	}
}

// Summary 一行平台摘要
func Summary(platform string, now types.Timestamp, st scheduler.Stats) string {
	return fmt.Sprintf("%s now=%s admitted=%d dispatched=%d actuations=%d misses=%d queue=%d pool=%d pending=%d",
		platform, now, st.Admitted, st.Dispatched, st.Actuations, st.Misses,
		st.QueueDepth, st.PoolInUse, st.PendingActuations)
}

// Reporter 把致動與錯過的截止時間寫到狀態行
type Reporter struct {
	scheduler.NopObserver
	sink Sink
}

func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

func (r *Reporter) OnActuate(a types.Actuation) {
	r.sink.WriteStatus(fmt.Sprintf("actuate %s value=%d tag=%s at=%s", a.Actor, a.Value, a.Tag, a.At), PositionActuation)
}

func (r *Reporter) OnMiss(m types.DeadlineMiss) {
	r.sink.WriteStatus(fmt.Sprintf("MISS %s value=%d tag=%s late=%s", m.Actor, m.Value, m.Tag, m.Lateness), PositionMiss)
}
