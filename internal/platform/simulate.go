package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/ptides-os/internal/hw"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/internal/stimulus"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// SimResult 一次模擬的結果
type SimResult struct {
	Until      types.Timestamp
	Stimuli    int
	Rejected   int
	Actuations []types.Actuation
	Misses     []types.DeadlineMiss
	Stats      scheduler.Stats
}

// history 記錄模擬期間所有的致動與錯過
type history struct {
	scheduler.NopObserver

	mu         sync.Mutex
	actuations []types.Actuation
	misses     []types.DeadlineMiss
}

func (h *history) OnActuate(a types.Actuation) {
	h.mu.Lock()
	h.actuations = append(h.actuations, a)
	h.mu.Unlock()
}

func (h *history) OnMiss(m types.DeadlineMiss) {
	h.mu.Lock()
	h.misses = append(h.misses, m)
	h.mu.Unlock()
}

func (h *history) snapshot() ([]types.Actuation, []types.DeadlineMiss) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Actuation(nil), h.actuations...), append([]types.DeadlineMiss(nil), h.misses...)
}

// Simulate 在手動時鐘上執行到 until
//
// 時間依序推進到每個預先排定的刺激；途中到期的計時器會在推進時觸發。
// 平台必須已經 Start。
func (p *Platform) Simulate(until types.Timestamp) (*SimResult, error) {
	clock, ok := p.clock.(*hw.ManualClock)
	if !ok || p.history == nil {
		return nil, ErrNotSimulated
	}
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	if !started || stopped {
		return nil, fmt.Errorf("simulate: %w", ErrStopped)
	}

	res := &SimResult{Until: until}
	for _, st := range stimulus.Plan(p.stimuli.Generators(), until) {
		if p.sched.Err() != nil {
			break
		}
		clock.Set(st.At)
		res.Stimuli++
		if err := st.Fire(p.sched); err != nil {
			res.Rejected++
			if errors.Is(err, scheduler.ErrHalted) {
				break
			}
			p.log.Warn("stimulus rejected", "actor", st.Gen.Name, "at", st.At, "error", err)
		}
	}
	if p.sched.Err() == nil {
		clock.Set(until)
	}

	p.publishSummary()
	res.Actuations, res.Misses = p.history.snapshot()
	res.Stats = p.sched.Stats()
	return res, p.sched.Err()
}
