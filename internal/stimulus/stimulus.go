// ============================================================================
// PTIDES Stimulus - 週期性感測器刺激
// ============================================================================
//
// Package: internal/stimulus
// 文件: stimulus.go
// 功能: 以固定週期對感測器演員發出「新資料」中斷
//
// 兩種模式:
//   1. 即時: Pool 為每個 Generator 啟動一個 goroutine，用 time.Ticker 驅動
//   2. 模擬: Plan 預先算出所有刺激的時間點，由 ManualClock 逐一推進
//
// 錯誤處理:
//   - ErrPoolClosed: Pool 已停止
//   - scheduler 停機（ErrHalted/ErrStopped）時該 Generator 自行結束
//   - 其他錯誤（例如中斷表溢位）只計數，下一個週期繼續
//
// ============================================================================

package stimulus

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

var (
	// ErrPoolClosed Pool 已關閉，無法再啟動
	ErrPoolClosed = errors.New("stimulus pool is closed")
	// ErrAlreadyStarted Pool 已啟動
	ErrAlreadyStarted = errors.New("stimulus pool already started")
)

// Target 接收感測器中斷（*scheduler.Scheduler）
type Target interface {
	Stimulate(sensor types.ActorID, value types.Value) error
}

// Generator 一個週期性的刺激來源
type Generator struct {
	Actor      types.ActorID
	Name       string
	Interval   time.Duration
	Delay      time.Duration // 第一次刺激前的等待
	StartValue types.Value
	Count      int // 0 表示不限

	fired  atomic.Uint64
	failed atomic.Uint64
}

// Fired 成功送出的次數
func (g *Generator) Fired() uint64 { return g.fired.Load() }

// Failed 被拒絕的次數
func (g *Generator) Failed() uint64 { return g.failed.Load() }

// value 第 k 次（從 0 起算）刺激的值
func (g *Generator) value(k int) types.Value {
	return g.StartValue + types.Value(k)
}

// at 第 k 次刺激相對於起點的時間
func (g *Generator) at(k int) time.Duration {
	return g.Delay + time.Duration(k)*g.Interval
}

// Pool 管理所有 Generator 的 goroutine
type Pool struct {
	target Target
	gens   []*Generator
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool 建立 Pool
func NewPool(target Target, gens ...*Generator) *Pool {
	return &Pool{
		target: target,
		gens:   gens,
		log:    slog.With("component", "stimulus"),
	}
}

// Generators 所有 Generator
func (p *Pool) Generators() []*Generator { return p.gens }

// Start 為每個 Generator 啟動一個 goroutine
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for _, g := range p.gens {
		p.wg.Add(1)
		go func(g *Generator) {
			defer p.wg.Done()
			p.run(ctx, g)
		}(g)
	}

	p.started = true
	return nil
}

func (p *Pool) run(ctx context.Context, g *Generator) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for k := 0; g.Count == 0 || k < g.Count; k++ {
		if k > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
		if !p.fire(g, k) {
			return
		}
	}
}

// fire 回傳 false 表示 scheduler 已經停機
func (p *Pool) fire(g *Generator, k int) bool {
	err := p.target.Stimulate(g.Actor, g.value(k))
	if err == nil {
		g.fired.Add(1)
		return true
	}
	g.failed.Add(1)
	if errors.Is(err, scheduler.ErrHalted) || errors.Is(err, scheduler.ErrStopped) {
		p.log.Info("generator stopped", "actor", g.Name, "err", err)
		return false
	}
	p.log.Warn("stimulus rejected", "actor", g.Name, "value", g.value(k), "err", err)
	return true
}

// Stop 取消所有 goroutine 並等待結束
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	if started {
		p.cancel()
		p.wg.Wait()
	}
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// ============================================================================
// 模擬模式
// ============================================================================

// Stimulus 一次預先排定的刺激
type Stimulus struct {
	At    types.Timestamp
	Gen   *Generator
	Value types.Value
}

// Plan 算出 [0, until] 之間所有刺激，依時間排序；同一時間依 Generator 順序
func Plan(gens []*Generator, until types.Timestamp) []Stimulus {
	var out []Stimulus
	for _, g := range gens {
		if g.Interval <= 0 {
			continue
		}
		for k := 0; g.Count == 0 || k < g.Count; k++ {
			at := types.FromDuration(g.at(k))
			if at > until {
				break
			}
			out = append(out, Stimulus{At: at, Gen: g, Value: g.value(k)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Fire 把預先排定的刺激送給 target，並更新 Generator 的計數
func (s Stimulus) Fire(target Target) error {
	err := target.Stimulate(s.Gen.Actor, s.Value)
	if err != nil {
		s.Gen.failed.Add(1)
		return err
	}
	s.Gen.fired.Add(1)
	return nil
}
