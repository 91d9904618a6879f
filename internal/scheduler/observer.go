package scheduler

import (
	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Dispatch 一次派送的描述
type Dispatch struct {
	Event types.Event
	Actor *actor.Actor
	Now   types.Timestamp
	// Slack = Tag.Timestamp + Actor.Deadline - Now
	Slack types.Timestamp
}

// Observer 接收 scheduler 的事件通知
//
// 所有回呼都在 mask 釋放後、由目前的 drainer goroutine 依序呼叫，
// 回呼內可以再呼叫 Stimulate/Deliver（會排入中斷表）。
type Observer interface {
	OnAdmit(ev types.Event, src Source)
	OnAdjust(ev types.Event, target *actor.Actor)
	OnDispatch(d Dispatch)
	OnActuate(a types.Actuation)
	OnMiss(m types.DeadlineMiss)
	OnArm(at types.Timestamp)
}

// NopObserver 什麼都不做，可以嵌入只關心部分回呼的型別
type NopObserver struct{}

func (NopObserver) OnAdmit(types.Event, Source)        {}
func (NopObserver) OnAdjust(types.Event, *actor.Actor) {}
func (NopObserver) OnDispatch(Dispatch)                {}
func (NopObserver) OnActuate(types.Actuation)          {}
func (NopObserver) OnMiss(types.DeadlineMiss)          {}
func (NopObserver) OnArm(types.Timestamp)              {}

// Observers 依序轉發給多個 Observer
type Observers []Observer

func (obs Observers) OnAdmit(ev types.Event, src Source) {
	for _, o := range obs {
		o.OnAdmit(ev, src)
	}
}

func (obs Observers) OnAdjust(ev types.Event, target *actor.Actor) {
	for _, o := range obs {
		o.OnAdjust(ev, target)
	}
}

func (obs Observers) OnDispatch(d Dispatch) {
	for _, o := range obs {
		o.OnDispatch(d)
	}
}

func (obs Observers) OnActuate(a types.Actuation) {
	for _, o := range obs {
		o.OnActuate(a)
	}
}

func (obs Observers) OnMiss(m types.DeadlineMiss) {
	for _, o := range obs {
		o.OnMiss(m)
	}
}

func (obs Observers) OnArm(at types.Timestamp) {
	for _, o := range obs {
		o.OnArm(at)
	}
}
