// ============================================================================
// PTIDES 平台 - 系統核心協調器
// ============================================================================
//
// Package: internal/platform
// 文件: platform.go
// 功能: 依設定組裝一個平台，管理所有元件的生命週期
//
// 架構設計:
//   平台是啟動程式碼，負責把靜態演員圖接到各個協作者：
//   - Graph: 啟動時建立並分析（環、截止時間、路徑調整量）
//   - Scheduler: 事件池、事件佇列、虛擬中斷表
//   - Clock: 系統時鐘或手動時鐘（模擬）
//   - Transport: gRPC 或 loopback，跨平台傳送事件
//   - Observers: metrics、trace、status、最近的 misses
//   - Stimulus: 週期性的感測器刺激
//   - Report: 停止時寫出執行報告
//
// 背景循環:
//   1. Status Loop - 定期寫出摘要狀態行並更新 gauges
//   2. Serve Loop - gRPC 伺服器（有設定 listen 時）
//   3. Metrics Loop - Prometheus /metrics（有啟用時）
//
// 停機:
//   scheduler 遇到致命錯誤時自行停機；Run 偵測到後停止平台並回傳原因。
//
// ============================================================================

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/config"
	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/internal/hw"
	"github.com/ChuLiYu/ptides-os/internal/metrics"
	"github.com/ChuLiYu/ptides-os/internal/report"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/internal/status"
	"github.com/ChuLiYu/ptides-os/internal/stimulus"
	"github.com/ChuLiYu/ptides-os/internal/trace"
	"github.com/ChuLiYu/ptides-os/internal/transport"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

var (
	// ErrNotSimulated Simulate 需要手動時鐘
	ErrNotSimulated = errors.New("platform: simulation needs a manual clock")
	// ErrNoInbound 沒有設定 inbound 演員，無法接收網路事件
	ErrNoInbound = errors.New("platform: no inbound actor configured")
	// ErrUnknownActor 名稱不存在
	ErrUnknownActor = errors.New("platform: unknown actor")
	ErrStopped      = errors.New("platform: stopped")
)

// Options 覆寫設定中的協作者（測試與模擬用）
type Options struct {
	Clock  hw.Clock         // nil 時依 platform.clock 建立
	Sender scheduler.Sender // 非 nil 時取代 gRPC client
	Status status.Sink      // nil 時寫到 slog
	Logger *slog.Logger
}

// Platform 一個 PTIDES 平台
type Platform struct {
	cfg   *config.Config
	graph *graph.Graph
	clock hw.Clock
	sched *scheduler.Scheduler
	log   *slog.Logger

	inbound   types.ActorID
	sinkMu    sync.RWMutex
	status    status.Sink
	mqtt      *status.MQTTSink
	collector *metrics.Collector
	traceLog  *trace.Log
	recorder  *trace.Recorder
	reports   *report.Manager
	misses    *report.MissLog
	client    *transport.GrpcTransport
	server    *transport.Server
	stimuli   *stimulus.Pool
	history   *history // 只有手動時鐘

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
	cancel    context.CancelFunc
	stopCh    chan struct{}
	loopWg    sync.WaitGroup
}

// New 依設定組裝平台
//
// 圖的結構錯誤（環、延遲順序、未知種類）在這裡回傳，事件處理開始之前。
func New(cfg *config.Config, opts Options) (*Platform, error) {
	g, err := cfg.BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("platform", cfg.Platform.ID)

	p := &Platform{
		cfg:     cfg,
		graph:   g,
		clock:   opts.Clock,
		log:     logger,
		inbound: types.NoActor,
		status:  opts.Status,
		misses:  report.NewMissLog(cfg.Report.Misses),
		stopCh:  make(chan struct{}),
	}

	if p.clock == nil {
		if cfg.Platform.Clock == config.ClockManual {
			p.clock = hw.NewManualClock(0)
		} else {
			p.clock = hw.NewSystemClock()
		}
	}
	if p.status == nil {
		p.status = status.LogSink{Logger: logger.With("component", "status")}
	}

	if name := cfg.Transport.InboundActor; name != "" {
		a, ok := g.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: inbound %q", ErrUnknownActor, name)
		}
		p.inbound = a.ID
	}

	gens := make([]*stimulus.Generator, 0, len(cfg.Stimulus))
	for _, s := range cfg.Stimulus {
		a, ok := g.Lookup(s.Actor)
		if !ok {
			return nil, fmt.Errorf("%w: stimulus %q", ErrUnknownActor, s.Actor)
		}
		gens = append(gens, &stimulus.Generator{
			Actor:      a.ID,
			Name:       a.Name,
			Interval:   s.Interval,
			Delay:      s.Delay,
			StartValue: types.Value(s.StartValue),
			Count:      s.Count,
		})
	}

	observers := scheduler.Observers{p.misses, status.NewReporter(statusProxy{p})}
	if _, manual := p.clock.(*hw.ManualClock); manual {
		p.history = &history{}
		observers = append(observers, p.history)
	}
	if cfg.Metrics.Enabled {
		p.collector = metrics.NewCollector()
		observers = append(observers, p.collector)
	}
	if cfg.Trace.Path != "" {
		p.traceLog, err = trace.Open(cfg.Trace.Path, trace.Options{
			BufferSize:    cfg.Trace.BufferSize,
			FlushInterval: cfg.Trace.FlushInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
		p.recorder = trace.NewRecorder(p.traceLog, g, cfg.Trace.Arms)
		observers = append(observers, p.recorder)
	}
	if cfg.Report.Path != "" {
		p.reports = report.NewManager(cfg.Report.Path)
	}

	sender := opts.Sender
	if sender == nil && cfg.Transport.Peer != "" {
		p.client = transport.NewGrpcTransport(transport.ClientConfig{
			Peer:           cfg.Transport.Peer,
			SendTimeout:    cfg.Transport.SendTimeout,
			OutboundBuffer: cfg.Transport.OutboundBuffer,
		})
		sender = p.client
	}
	if cfg.Transport.Listen != "" {
		p.server = transport.NewServer(p)
	}

	sc := cfg.SchedulerConfig()
	sc.Sender = sender
	sc.Observer = observers
	sc.Logger = logger
	p.sched = scheduler.New(g, p.clock, sc)

	p.stimuli = stimulus.NewPool(p.sched, gens...)

	return p, nil
}

// statusProxy 讓 Reporter 在 Start 換上 MQTT sink 之後也寫到新的 sink
type statusProxy struct{ p *Platform }

func (s statusProxy) WriteStatus(text string, position int) {
	s.p.sinkMu.RLock()
	sink := s.p.status
	s.p.sinkMu.RUnlock()
	sink.WriteStatus(text, position)
}

// ============================================================================
// 存取器
// ============================================================================

func (p *Platform) ID() string                      { return p.cfg.Platform.ID }
func (p *Platform) Graph() *graph.Graph             { return p.graph }
func (p *Platform) Clock() hw.Clock                 { return p.clock }
func (p *Platform) Scheduler() *scheduler.Scheduler { return p.sched }
func (p *Platform) Stats() scheduler.Stats          { return p.sched.Stats() }
func (p *Platform) Err() error                      { return p.sched.Err() }

// Misses 最近的 deadline misses
func (p *Platform) Misses() []types.DeadlineMiss { return p.misses.Recent() }

// ServerAddr gRPC 伺服器實際綁定的位址
func (p *Platform) ServerAddr() string {
	if p.server == nil {
		return ""
	}
	return p.server.Addr()
}

// ============================================================================
// 中斷入口
// ============================================================================

// Stimulate 依名稱對感測器發出刺激
func (p *Platform) Stimulate(name string, value types.Value) error {
	a, ok := p.graph.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActor, name)
	}
	return p.sched.Stimulate(a.ID, value)
}

// Receive 實作 transport.Receiver：遠端事件成為網路中斷
func (p *Platform) Receive(value types.Value, tag types.Tag) error {
	if p.inbound == types.NoActor {
		return ErrNoInbound
	}
	return p.sched.Deliver(p.inbound, value, tag)
}

// ============================================================================
// 生命週期
// ============================================================================

// Start 啟動 scheduler 與所有背景元件
func (p *Platform) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return scheduler.ErrAlreadyStarted
	}
	p.startTime = time.Now()
	ctx, p.cancel = context.WithCancel(ctx)

	if broker := p.cfg.Status.MQTT.Broker; broker != "" {
		sink, err := status.DialMQTT(ctx, status.MQTTOptions{
			Broker:   broker,
			ClientID: p.cfg.Status.MQTT.ClientID,
			Topic:    p.cfg.Status.MQTT.Topic + "/" + p.cfg.Platform.ID,
			QoS:      p.cfg.Status.MQTT.QoS,
		})
		if err != nil {
			return fmt.Errorf("status mqtt: %w", err)
		}
		p.mqtt = sink
		p.sinkMu.Lock()
		p.status = status.Multi{p.status, sink}
		p.sinkMu.Unlock()
	}

	if err := p.sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if p.client != nil {
		p.client.Start(ctx)
	}
	if p.server != nil {
		if err := p.server.Listen(p.cfg.Transport.Listen); err != nil {
			return err
		}
		p.loopWg.Add(1)
		go func() {
			defer p.loopWg.Done()
			if err := p.server.Serve(); err != nil {
				p.log.Error("transport server failed", "error", err)
			}
		}()
	}
	if p.collector != nil {
		p.loopWg.Add(1)
		go func() {
			defer p.loopWg.Done()
			if err := metrics.StartServer(ctx, p.cfg.Metrics.Port); err != nil {
				p.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	// 手動時鐘下由 Simulate 驅動刺激
	if _, manual := p.clock.(*hw.ManualClock); !manual {
		if err := p.stimuli.Start(ctx); err != nil {
			return err
		}
		if p.cfg.Status.Interval > 0 {
			p.loopWg.Add(1)
			go p.statusLoop()
		}
	}

	p.started = true
	p.log.Info("platform started",
		"actors", p.graph.Len(),
		"clock", p.cfg.Platform.Clock,
		"stimuli", len(p.cfg.Stimulus))
	return nil
}

// statusLoop 定期寫出摘要
func (p *Platform) statusLoop() {
	defer p.loopWg.Done()
	ticker := time.NewTicker(p.cfg.Status.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.publishSummary()
		}
	}
}

func (p *Platform) publishSummary() {
	st := p.sched.Stats()
	if p.collector != nil {
		p.collector.UpdateSchedulerStats(st)
	}
	statusProxy{p}.WriteStatus(status.Summary(p.cfg.Platform.ID, p.clock.Now(), st), status.PositionSummary)
}

// Run 啟動平台，直到 ctx 取消或 scheduler 停機，然後停止平台
//
// 回傳停機原因（正常結束為 nil）。
func (p *Platform) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		p.Stop()
		return err
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return p.sched.Err()
		case <-ticker.C:
			if err := p.sched.Err(); err != nil {
				p.log.Error("scheduler halted", "error", err)
				p.Stop()
				return err
			}
		}
	}
}

// Stop 優雅關閉平台
//
// 關閉順序：
//  1. 停止刺激與背景循環，不再產生新中斷
//  2. 停止 scheduler（取消計時器）
//  3. 關閉 transport
//  4. 寫出最後的摘要與執行報告，關閉 trace
func (p *Platform) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	p.log.Info("stopping platform...")

	close(p.stopCh)
	p.stimuli.Stop()
	p.sched.Stop()
	if p.server != nil && started {
		p.server.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.loopWg.Wait()

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			p.log.Error("failed to close transport", "error", err)
		}
	}

	p.publishSummary()
	if err := p.writeReport(); err != nil {
		p.log.Error("failed to write report", "error", err)
	}
	if p.traceLog != nil {
		if err := p.traceLog.Close(); err != nil {
			p.log.Error("failed to close trace", "error", err)
		}
	}
	if p.mqtt != nil {
		_ = p.mqtt.Close()
	}

	p.log.Info("platform stopped", "stats", p.sched.Stats())
}

// Report 目前的執行報告
func (p *Platform) Report() report.RunReport {
	r := report.RunReport{
		SchemaVer:  report.SchemaVersion,
		PlatformID: p.cfg.Platform.ID,
		StartedAt:  p.startTime,
		FinishedAt: time.Now(),
		Now:        p.clock.Now(),
		Stats:      p.sched.Stats(),
		Actors:     report.Actors(p.graph),
		Misses:     p.misses.Recent(),
		TraceSeq:   p.traceLog.LastSeq(),
	}
	if err := p.sched.Err(); err != nil {
		r.HaltError = err.Error()
	}
	return r
}

func (p *Platform) writeReport() error {
	if p.reports == nil {
		return nil
	}
	return p.reports.Write(p.Report())
}
