package trace

import (
	"log/slog"
	"sync/atomic"

	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Recorder 把 scheduler 的通知寫入追蹤日誌
//
// 寫入失敗只記錄與計數，不影響排程。
type Recorder struct {
	log    *Log
	graph  *graph.Graph
	arms   bool
	failed atomic.Uint64
	logger *slog.Logger
}

// NewRecorder 建立 Recorder；withArms 為 true 時也記錄計時器設定
func NewRecorder(l *Log, g *graph.Graph, withArms bool) *Recorder {
	return &Recorder{
		log:    l,
		graph:  g,
		arms:   withArms,
		logger: slog.With("component", "trace"),
	}
}

// Failed 寫入失敗次數
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

func (r *Recorder) name(id types.ActorID) string {
	if r.graph == nil {
		return ""
	}
	if a := r.graph.Actor(id); a != nil {
		return a.Name
	}
	return ""
}

func (r *Recorder) append(rec Record, force bool) {
	if err := r.log.Append(rec, force); err != nil {
		if r.failed.Add(1) == 1 {
			r.logger.Warn("trace append failed", "kind", rec.Kind, "err", err)
		}
	}
}

func (r *Recorder) OnAdmit(ev types.Event, src scheduler.Source) {
	r.append(Record{
		Kind:     KindAdmit,
		Actor:    r.name(ev.To),
		Source:   src.String(),
		Value:    ev.Value,
		Tag:      ev.Tag,
		OrderTag: ev.OrderTag,
	}, false)
}

func (r *Recorder) OnAdjust(ev types.Event, target *actor.Actor) {
	r.append(Record{
		Kind:     KindAdjust,
		Actor:    target.Name,
		Value:    ev.Value,
		Tag:      ev.Tag,
		OrderTag: ev.OrderTag,
	}, false)
}

func (r *Recorder) OnDispatch(d scheduler.Dispatch) {
	r.append(Record{
		Kind:     KindDispatch,
		Actor:    d.Actor.Name,
		Value:    d.Event.Value,
		Tag:      d.Event.Tag,
		OrderTag: d.Event.OrderTag,
		Now:      d.Now,
		Slack:    d.Slack,
	}, false)
}

func (r *Recorder) OnActuate(a types.Actuation) {
	r.append(Record{
		Kind:  KindActuate,
		Actor: a.Actor,
		Value: a.Value,
		Tag:   a.Tag,
		Now:   a.At,
	}, false)
}

// 錯過截止時間立刻寫檔
func (r *Recorder) OnMiss(m types.DeadlineMiss) {
	r.append(Record{
		Kind:  KindMiss,
		Actor: m.Actor,
		Value: m.Value,
		Tag:   m.Tag,
		Now:   m.Now,
		Slack: m.Lateness,
	}, true)
}

func (r *Recorder) OnArm(at types.Timestamp) {
	if !r.arms {
		return
	}
	r.append(Record{Kind: KindArm, Tag: types.Tag{Timestamp: at}}, false)
}
