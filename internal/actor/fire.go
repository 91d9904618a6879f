package actor

import (
	"fmt"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// MaxOutputs 一次觸發最多產生的事件數（clock：兩個後繼 + 下一個 tick）
const MaxOutputs = MaxSuccessors + 1

// Env 觸發方法可以使用的外部能力，由 scheduler 實作
type Env interface {
	Now() types.Timestamp
	// Actuate 名義時間正好等於現在
	Actuate(a *Actor, ev types.Event)
	// ScheduleActuation 名義時間尚未到達，計時器必須設在 ev.Tag
	ScheduleActuation(a *Actor, ev types.Event) error
	// MissDeadline 名義時間已經過去
	MissDeadline(a *Actor, ev types.Event, now types.Timestamp)
	// Transmit 將事件送往遠端平台
	Transmit(a *Actor, ev types.Event) error
}

// Result 觸發產生的事件，順序即插入佇列的順序
type Result struct {
	Out [MaxOutputs]types.Event
	N   int
}

func (r *Result) emit(ev types.Event) {
	r.Out[r.N] = ev
	r.N++
}

// Events returns the produced events.
func (r *Result) Events() []types.Event {
	return r.Out[:r.N]
}

// Fire 執行演員的觸發方法
//
// ev 是已從佇列移除的事件副本；回傳的事件尚未配置 pool slot。
func (a *Actor) Fire(env Env, ev types.Event) (Result, error) {
	var r Result
	switch a.Kind {
	case KindClock:
		a.fireClock(&r, ev)
	case KindComputation:
		ev.Value += a.Offset
		a.forward(&r, ev, a.ModelDelay, a.BoundedDelay)
	case KindModelDelay:
		if a.Transmit {
			out := ev
			out.Tag = ev.Tag.Advance(a.ModelDelay)
			out.OrderTag = ev.OrderTag.Advance(a.BoundedDelay)
			out.From = a.ID
			out.To = types.NoActor
			out.Adjusted = false
			if err := env.Transmit(a, out); err != nil {
				return r, fmt.Errorf("%s transmit: %w", a, err)
			}
			return r, nil
		}
		a.forward(&r, ev, a.ModelDelay, a.BoundedDelay)
	case KindMerge:
		a.forward(&r, ev, 0, 0)
	case KindActuator:
		if err := a.fireActuator(env, ev); err != nil {
			return r, err
		}
	case KindSensor:
		return r, fmt.Errorf("%w: %s", ErrNotDispatchable, a)
	default:
		return r, fmt.Errorf("%w: %s", ErrUnknownKind, a)
	}
	return r, nil
}

// Sense 感測器中斷：以 tag 建立送往各後繼的事件
func (a *Actor) Sense(tag types.Tag, value types.Value) (Result, error) {
	var r Result
	if a.Kind != KindSensor {
		return r, fmt.Errorf("%w: %s is not a sensor", ErrNotDispatchable, a)
	}
	for _, next := range a.Successors() {
		r.emit(types.Event{
			Value:    value,
			Tag:      tag,
			OrderTag: tag,
			From:     a.ID,
			To:       next,
		})
	}
	return r, nil
}

// FirstTick 時鐘的第一個 tick，在 now + Period
func (a *Actor) FirstTick(now types.Timestamp) types.Event {
	tag := types.Tag{Timestamp: now + a.Period}
	return types.Event{Tag: tag, OrderTag: tag, From: a.ID, To: a.ID}
}

func (a *Actor) fireClock(r *Result, tick types.Event) {
	for _, next := range a.Successors() {
		r.emit(types.Event{
			Tag:      tick.Tag,
			OrderTag: tick.Tag,
			From:     a.ID,
			To:       next,
		})
	}
	nextTag := tick.Tag.Advance(a.Period)
	r.emit(types.Event{Tag: nextTag, OrderTag: nextTag, From: a.ID, To: a.ID})
}

// forward 將 ev 推進後送往每個後繼
func (a *Actor) forward(r *Result, ev types.Event, modelDelay, boundedDelay types.Timestamp) {
	out := ev
	out.From = a.ID
	out.Adjusted = false
	if modelDelay != 0 || boundedDelay != 0 {
		out.Tag = ev.Tag.Advance(modelDelay)
		out.OrderTag = ev.OrderTag.Advance(boundedDelay)
	}
	for _, next := range a.Successors() {
		out.To = next
		r.emit(out)
	}
}

func (a *Actor) fireActuator(env Env, ev types.Event) error {
	now := env.Now()
	due := ev.Tag.Timestamp
	switch {
	case now < due:
		if err := env.ScheduleActuation(a, ev); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	case now == due:
		env.Actuate(a, ev)
	default:
		env.MissDeadline(a, ev, now)
	}
	return nil
}
