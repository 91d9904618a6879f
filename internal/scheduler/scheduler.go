// ============================================================================
// PTIDES Scheduler - 安全時間判斷與事件派送
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 事件準入、靜態時序分析、依標籤順序派送、單一計時器管理、中斷優先級串接
//
// 執行模型:
//   - 所有外部刺激（sensor、network、timer）都是虛擬中斷，先放進固定容量的中斷表
//   - 中斷發生時若 CPU 閒置，發出中斷的 goroutine 成為 drainer，負責處理所有工作
//   - drainer 依優先級高到低取出中斷：準入事件 → processEvents
//   - 每次觸發之間檢查是否有更高優先級的中斷，有的話巢狀進入（level 加一層，結束時恢復）
//
// processEvents:
//   1. 取佇列頭
//   2. 目標是多輸入演員且尚未調整 → 靜態時序分析：重設 OrderTag，重新插入，回到 1
//   3. now < safeTime → 停止（drainer 結束時設定計時器）
//   4. 目標演員正在觸發（被巢狀層打斷）→ 事件留在佇列，交給外層
//   5. 移除、標記 firing、釋放 mask、觸發、取回 mask、清除 firing、插入輸出
//
// 計時器:
//   只有一個，永遠設在 min(被擋住的佇列頭安全時間, 最早的待致動時間)，
//   只有在這個時間點改變時才重新設定，沒有工作時取消。
//
// 致命錯誤（事件池耗盡、致動表溢位、未知種類）會讓 scheduler 停機：
// Err() 回報原因，之後的中斷全部回傳 ErrHalted。
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/internal/hw"
	"github.com/ChuLiYu/ptides-os/internal/pool"
	"github.com/ChuLiYu/ptides-os/internal/queue"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

var (
	ErrHalted           = errors.New("scheduler halted")
	ErrStopped          = errors.New("scheduler stopped")
	ErrAlreadyStarted   = errors.New("scheduler already started")
	ErrInterruptOverrun = errors.New("interrupt table full")
	ErrActuationOverrun = errors.New("actuation table full")
	ErrNoTransport      = errors.New("no transport configured")
	ErrNotSensor        = errors.New("actor is not a sensor")
)

// Sender 將事件送往遠端平台（transport 實作）
type Sender interface {
	Send(ev types.Event) error
}

// Config scheduler 設定
type Config struct {
	PoolCapacity   int
	InterruptSlots int
	ActuationSlots int

	// 中斷優先級，數字越大越優先。
	// Sensor 是預設值，演員自己的 Priority > 0 時優先使用。
	TimerPriority   int
	NetworkPriority int
	SensorPriority  int

	// 計時器服務已排程的致動時，晚於名義時間超過此值即記為 deadline miss
	ActuationTolerance types.Timestamp

	Sender   Sender
	Observer Observer
	Logger   *slog.Logger
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		PoolCapacity:    32,
		InterruptSlots:  16,
		ActuationSlots:  16,
		TimerPriority:   3,
		NetworkPriority: 2,
		SensorPriority:  1,

		ActuationTolerance: types.FromDuration(time.Millisecond),
	}
}

// Stats 執行統計
type Stats struct {
	Admitted   uint64 `json:"admitted"`
	Dispatched uint64 `json:"dispatched"`
	Adjusted   uint64 `json:"adjusted"`
	Actuations uint64 `json:"actuations"`
	Misses     uint64 `json:"misses"`
	Overruns   uint64 `json:"overruns"`
	Requeued   uint64 `json:"requeued"`
	TimerArms  uint64 `json:"timer_arms"`
	SendErrors uint64 `json:"send_errors"`

	QueueDepth        int `json:"queue_depth"`
	PoolInUse         int `json:"pool_in_use"`
	PendingActuations int `json:"pending_actuations"`
}

// Scheduler PTIDES 執行核心
type Scheduler struct {
	graph    *graph.Graph
	clock    hw.Clock
	sender   Sender
	observer Observer
	cfg      Config
	log      *slog.Logger

	mask     interruptMask
	pool     *pool.Pool
	queue    *queue.Queue
	irqs     *interruptTable
	acts     *actuationList
	outbox   []func(Observer)
	draining bool
	level    int
	started  bool
	stopped  bool
	halted   error
	stats    Stats

	// armMu 讓計時器設定依序發生；持有時不得取得 mask 以外的鎖
	armMu sync.Mutex
	armed types.Timestamp
}

// New 建立 scheduler；圖必須已經由 graph.Build 完成分析
func New(g *graph.Graph, clock hw.Clock, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = def.PoolCapacity
	}
	if cfg.InterruptSlots <= 0 {
		cfg.InterruptSlots = def.InterruptSlots
	}
	if cfg.ActuationSlots <= 0 {
		cfg.ActuationSlots = def.ActuationSlots
	}
	if cfg.ActuationTolerance < 0 {
		cfg.ActuationTolerance = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	p := pool.New(cfg.PoolCapacity)
	return &Scheduler{
		graph:    g,
		clock:    clock,
		sender:   cfg.Sender,
		observer: cfg.Observer,
		cfg:      cfg,
		log:      cfg.Logger.With("component", "scheduler"),
		pool:     p,
		queue:    queue.New(p),
		irqs:     newInterruptTable(cfg.InterruptSlots),
		acts:     newActuationList(cfg.ActuationSlots),
		level:    idleLevel,
		armed:    types.NoDeadline,
	}
}

// ============================================================================
// 生命週期
// ============================================================================

// Start 安裝計時器中斷並放入每個時鐘演員的第一個 tick
func (s *Scheduler) Start() error {
	s.mask.Disable()
	if s.started {
		s.mask.Restore()
		return ErrAlreadyStarted
	}
	s.started = true
	s.clock.SetAlarmHandler(s.OnTimer)

	now := s.clock.Now()
	for _, a := range s.graph.Actors() {
		if a.Kind != actor.KindClock {
			continue
		}
		if err := s.enqueue(a.FirstTick(now)); err != nil {
			s.halt(err)
			break
		}
	}
	err := s.halted
	s.mask.Restore()

	s.syncTimer()
	if err != nil {
		return err
	}
	s.log.Info("scheduler started", "actors", s.graph.Len(), "pool", s.cfg.PoolCapacity)
	return nil
}

// Stop 取消計時器，之後的中斷全部拒絕
func (s *Scheduler) Stop() {
	s.mask.Disable()
	s.stopped = true
	s.irqs.clear()
	s.mask.Restore()
	s.syncTimer()
}

// Err 停機原因；正常執行中為 nil
func (s *Scheduler) Err() error {
	s.mask.Disable()
	defer s.mask.Restore()
	return s.halted
}

// Stats 目前的統計
func (s *Scheduler) Stats() Stats {
	s.mask.Disable()
	defer s.mask.Restore()
	st := s.stats
	st.QueueDepth = s.queue.Len()
	st.PoolInUse = s.pool.InUse()
	st.PendingActuations = s.acts.len()
	return st
}

// Pending returns the queued events in dispatch order.
func (s *Scheduler) Pending() []types.Event {
	s.mask.Disable()
	defer s.mask.Restore()
	return s.queue.Events()
}

// Graph 目前使用的演員圖
func (s *Scheduler) Graph() *graph.Graph { return s.graph }

// ============================================================================
// 中斷入口
// ============================================================================

// Stimulate 感測器中斷：以 now() 蓋上標籤
func (s *Scheduler) Stimulate(sensor types.ActorID, value types.Value) error {
	a := s.graph.Actor(sensor)
	if a == nil || a.Kind != actor.KindSensor {
		return fmt.Errorf("%w: %d", ErrNotSensor, sensor)
	}
	prio := s.cfg.SensorPriority
	if a.Priority > 0 {
		prio = a.Priority
	}
	now := s.clock.Now()
	return s.raise(Interrupt{
		Source:   SourceSensor,
		Priority: prio,
		Actor:    sensor,
		Value:    value,
		Tag:      types.Tag{Timestamp: now},
	})
}

// Deliver 網路中斷：事件帶著遠端的標籤進入 inbound 演員
func (s *Scheduler) Deliver(inbound types.ActorID, value types.Value, tag types.Tag) error {
	a := s.graph.Actor(inbound)
	if a == nil || a.Kind != actor.KindSensor {
		return fmt.Errorf("%w: inbound %d", ErrNotSensor, inbound)
	}
	return s.raise(Interrupt{
		Source:   SourceNetwork,
		Priority: s.cfg.NetworkPriority,
		Actor:    inbound,
		Value:    value,
		Tag:      tag,
	})
}

// OnTimer 計時器中斷，作為 Clock 的 alarm handler
func (s *Scheduler) OnTimer() {
	s.armMu.Lock()
	s.armed = types.NoDeadline
	s.armMu.Unlock()

	s.mask.Disable()
	pending := s.irqs.hasSource(SourceTimer)
	s.mask.Restore()
	if pending {
		return
	}

	err := s.raise(Interrupt{Source: SourceTimer, Priority: s.cfg.TimerPriority, Actor: types.NoActor})
	if err != nil && !errors.Is(err, ErrHalted) && !errors.Is(err, ErrStopped) {
		s.log.Warn("timer interrupt dropped", "err", err)
	}
}

func (s *Scheduler) raise(irq Interrupt) error {
	s.mask.Disable()
	if s.halted != nil {
		err := s.halted
		s.mask.Restore()
		return fmt.Errorf("%w: %v", ErrHalted, err)
	}
	if s.stopped {
		s.mask.Restore()
		return ErrStopped
	}
	if err := s.irqs.push(irq); err != nil {
		s.stats.Overruns++
		s.mask.Restore()
		s.log.Warn("interrupt overrun", "source", irq.Source, "priority", irq.Priority)
		return err
	}
	if s.draining {
		// drainer 會在下一次檢查時取走
		s.mask.Restore()
		return nil
	}
	s.draining = true
	s.drain()
	return nil
}

// drain runs with the mask held and returns with it released.
func (s *Scheduler) drain() {
	for {
		s.serviceNested(idleLevel)
		if notes := s.takeOutbox(); len(notes) > 0 {
			s.mask.Restore()
			s.deliver(notes)
			s.mask.Disable()
			continue
		}
		if s.halted == nil && !s.stopped && s.irqs.len() > 0 {
			continue
		}
		s.irqs.clear()
		s.draining = false
		s.mask.Restore()
		break
	}
	s.syncTimer()
}

// serviceNested 服務所有優先級高於 level 的中斷（mask 持有中）
func (s *Scheduler) serviceNested(level int) {
	for s.halted == nil && !s.stopped {
		irq, ok := s.irqs.popAbove(level)
		if !ok {
			return
		}
		prev := s.level
		s.level = irq.Priority
		s.admit(irq)
		s.processEvents(irq.Priority)
		s.level = prev
	}
}

// admit 將中斷轉成佇列中的事件（mask 持有中）
func (s *Scheduler) admit(irq Interrupt) {
	switch irq.Source {
	case SourceTimer:
		now := s.clock.Now()
		for _, p := range s.acts.popDue(now) {
			if now-p.event.Tag.Timestamp > s.cfg.ActuationTolerance {
				s.recordMiss(p.actor, p.event, now)
				continue
			}
			s.recordActuation(p.actor, p.event, now)
		}
	case SourceSensor, SourceNetwork:
		a := s.graph.Actor(irq.Actor)
		res, err := a.Sense(irq.Tag, irq.Value)
		if err != nil {
			s.halt(err)
			return
		}
		for _, ev := range res.Events() {
			if err := s.enqueue(ev); err != nil {
				s.halt(err)
				return
			}
			ev := ev
			src := irq.Source
			s.notify(func(o Observer) { o.OnAdmit(ev, src) })
		}
		s.stats.Admitted++
	}
}

// ============================================================================
// 派送
// ============================================================================

// processEvents runs with the mask held; fire methods run with it released.
func (s *Scheduler) processEvents(level int) {
	for s.halted == nil && !s.stopped {
		s.serviceNested(level)
		if s.halted != nil || s.stopped {
			return
		}

		h, ok := s.queue.PeekEarliest()
		if !ok {
			return
		}
		ev, err := s.pool.Get(h)
		if err != nil {
			s.halt(err)
			return
		}
		target := s.graph.Actor(ev.To)
		if target == nil {
			s.halt(fmt.Errorf("%w: event addressed to actor %d", actor.ErrUnknownKind, ev.To))
			return
		}

		if target.MultipleInputs && !ev.Adjusted {
			if err := s.staticTimingAnalysis(h, target); err != nil {
				s.halt(err)
				return
			}
			continue
		}

		now := s.clock.Now()
		if now < SafeTime(ev, target) {
			return
		}
		if !target.BeginFire() {
			// 外層正在觸發同一個演員，事件留在佇列
			s.stats.Requeued++
			return
		}
		s.queue.RemoveEarliest()
		s.stats.Dispatched++

		d := Dispatch{Event: ev, Actor: target, Now: now, Slack: Slack(ev, target, now)}
		s.notify(func(o Observer) { o.OnDispatch(d) })
		notes := s.takeOutbox()
		s.mask.Restore()

		s.deliver(notes)
		s.log.Debug("dispatch", "actor", target.Name, "tag", ev.Tag, "order", ev.OrderTag, "now", now)
		res, ferr := target.Fire(env{s}, ev)

		s.mask.Disable()
		// 觸發期間到達的中斷在清除 firing 之前處理
		s.serviceNested(level)
		target.EndFire()

		if ferr != nil {
			_ = s.pool.Release(h)
			s.halt(ferr)
			return
		}
		if err := s.emit(h, res); err != nil {
			s.halt(err)
			return
		}
	}
}

// staticTimingAnalysis 將佇列頭的事件依多輸入演員的調整量重新排序
func (s *Scheduler) staticTimingAnalysis(h pool.Handle, target *actor.Actor) error {
	head, ok := s.queue.RemoveEarliest()
	if !ok || head != h {
		return fmt.Errorf("static timing analysis on %s: handle is not the queue head", h)
	}
	ev, err := s.pool.Get(h)
	if err != nil {
		return err
	}
	ev = AdjustOrderTag(ev, target)
	if err := s.pool.Set(h, ev); err != nil {
		return err
	}
	if err := s.queue.Insert(h); err != nil {
		return err
	}
	s.stats.Adjusted++
	s.notify(func(o Observer) { o.OnAdjust(ev, target) })
	return nil
}

// emit 插入觸發的輸出；第一個輸出沿用被消耗的 slot
func (s *Scheduler) emit(h pool.Handle, res actor.Result) error {
	outs := res.Events()
	if len(outs) == 0 {
		return s.pool.Release(h)
	}
	if err := s.pool.Set(h, outs[0]); err != nil {
		return err
	}
	if err := s.queue.Insert(h); err != nil {
		return err
	}
	for _, ev := range outs[1:] {
		if err := s.enqueue(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) enqueue(ev types.Event) error {
	h, err := s.pool.Allocate(ev)
	if err != nil {
		return err
	}
	return s.queue.Insert(h)
}

func (s *Scheduler) recordActuation(a *actor.Actor, ev types.Event, now types.Timestamp) {
	s.stats.Actuations++
	act := types.Actuation{Actor: a.Name, Value: ev.Value, Tag: ev.Tag, At: now}
	s.notify(func(o Observer) { o.OnActuate(act) })
}

// recordMiss 計時器太晚服務的致動（mask 持有中）
func (s *Scheduler) recordMiss(a *actor.Actor, ev types.Event, now types.Timestamp) {
	s.stats.Misses++
	miss := newMiss(a, ev, now)
	s.log.Warn("deadline miss", "actor", a.Name, "tag", ev.Tag, "now", now, "lateness", miss.Lateness, "path", "timer")
	s.notify(func(o Observer) { o.OnMiss(miss) })
}

func newMiss(a *actor.Actor, ev types.Event, now types.Timestamp) types.DeadlineMiss {
	return types.DeadlineMiss{
		Actor:    a.Name,
		Value:    ev.Value,
		Tag:      ev.Tag,
		Now:      now,
		Lateness: now - ev.Tag.Timestamp,
	}
}

// halt 記錄致命錯誤（mask 持有中）
func (s *Scheduler) halt(err error) {
	if s.halted != nil {
		return
	}
	s.halted = err
	s.irqs.clear()
	s.log.Error("scheduler halted", "err", err, "queue", s.queue.Len(), "pool_in_use", s.pool.InUse())
}

// ============================================================================
// Observer 通知（mask 持有時排入，釋放後送出）
// ============================================================================

func (s *Scheduler) notify(fn func(Observer)) {
	s.outbox = append(s.outbox, fn)
}

func (s *Scheduler) takeOutbox() []func(Observer) {
	notes := s.outbox
	s.outbox = nil
	return notes
}

func (s *Scheduler) deliver(notes []func(Observer)) {
	for _, fn := range notes {
		fn(s.observer)
	}
}

// ============================================================================
// 計時器
// ============================================================================

// syncTimer 讓唯一的計時器對準最早的喚醒時間；在 mask 之外呼叫 Clock
func (s *Scheduler) syncTimer() {
	s.armMu.Lock()
	defer s.armMu.Unlock()

	s.mask.Disable()
	want := types.NoDeadline
	if s.halted == nil && !s.stopped {
		want = s.wakeTime()
	}
	changed := want != s.armed
	s.armed = want
	if changed && want != types.NoDeadline {
		s.stats.TimerArms++
	}
	s.mask.Restore()

	if !changed {
		return
	}
	if want == types.NoDeadline {
		s.clock.CancelTimer()
		return
	}
	s.clock.ArmTimer(want)
	s.observer.OnArm(want)
}

// wakeTime = min(佇列頭的安全時間, 最早的待致動時間)（mask 持有中）
func (s *Scheduler) wakeTime() types.Timestamp {
	wake := s.acts.earliest()
	h, ok := s.queue.PeekEarliest()
	if !ok {
		return wake
	}
	ev, err := s.pool.Get(h)
	if err != nil {
		return wake
	}
	if target := s.graph.Actor(ev.To); target != nil {
		if safe := SafeTime(ev, target); safe < wake {
			wake = safe
		}
	}
	return wake
}

// ============================================================================
// 安全時間
// ============================================================================

// SafeTime 事件可以被觸發的最早實體時間
//
// 多輸入演員: Tag.Timestamp - Adjustment
// 其他:       OrderTag.Timestamp
func SafeTime(ev types.Event, target *actor.Actor) types.Timestamp {
	if target.MultipleInputs {
		return ev.Tag.Timestamp - target.Adjustment
	}
	return ev.OrderTag.Timestamp
}

// AdjustOrderTag applies the multi-input ordering shift at most once.
func AdjustOrderTag(ev types.Event, target *actor.Actor) types.Event {
	if ev.Adjusted || !target.MultipleInputs {
		return ev
	}
	ev.OrderTag = types.Tag{
		Timestamp: ev.Tag.Timestamp - target.Adjustment,
		Microstep: ev.Tag.Microstep,
	}
	ev.Adjusted = true
	return ev
}

// Slack 絕對截止時間 (Tag + Deadline) 減去 now
func Slack(ev types.Event, target *actor.Actor, now types.Timestamp) types.Timestamp {
	if target.Deadline == types.NoDeadline {
		return types.NoDeadline
	}
	return ev.Tag.Timestamp + target.Deadline - now
}

// ============================================================================
// 觸發方法的執行環境（mask 已釋放）
// ============================================================================

type env struct{ s *Scheduler }

func (e env) Now() types.Timestamp { return e.s.clock.Now() }

func (e env) Actuate(a *actor.Actor, ev types.Event) {
	e.s.mask.Disable()
	e.s.recordActuation(a, ev, ev.Tag.Timestamp)
	notes := e.s.takeOutbox()
	e.s.mask.Restore()
	e.s.deliver(notes)
}

func (e env) ScheduleActuation(a *actor.Actor, ev types.Event) error {
	e.s.mask.Disable()
	defer e.s.mask.Restore()
	return e.s.acts.push(a, ev)
}

func (e env) MissDeadline(a *actor.Actor, ev types.Event, now types.Timestamp) {
	miss := newMiss(a, ev, now)
	e.s.mask.Disable()
	e.s.stats.Misses++
	e.s.mask.Restore()

	e.s.log.Warn("deadline miss", "actor", a.Name, "tag", ev.Tag, "now", now, "lateness", miss.Lateness)
	e.s.observer.OnMiss(miss)
}

func (e env) Transmit(a *actor.Actor, ev types.Event) error {
	if e.s.sender == nil {
		return ErrNoTransport
	}
	if err := e.s.sender.Send(ev); err != nil {
		// 網路可靠性不在這裡處理，記錄後繼續
		e.s.mask.Disable()
		e.s.stats.SendErrors++
		e.s.mask.Restore()
		e.s.log.Warn("transmit failed", "actor", a.Name, "tag", ev.Tag, "err", err)
	}
	return nil
}
