package scheduler

import (
	"fmt"

	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

type pendingActuation struct {
	actor *actor.Actor
	event types.Event
}

// actuationList 已排程、等待計時器的致動，依名義時間排序
type actuationList struct {
	items []pendingActuation
	limit int
}

func newActuationList(limit int) *actuationList {
	if limit <= 0 {
		limit = 1
	}
	return &actuationList{items: make([]pendingActuation, 0, limit), limit: limit}
}

func (l *actuationList) push(a *actor.Actor, ev types.Event) error {
	if len(l.items) == l.limit {
		return fmt.Errorf("%w: %d pending", ErrActuationOverrun, len(l.items))
	}
	i := len(l.items)
	for i > 0 && ev.Tag.Less(l.items[i-1].event.Tag) {
		i--
	}
	l.items = append(l.items, pendingActuation{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = pendingActuation{actor: a, event: ev}
	return nil
}

// earliest 最早的致動時間，沒有時回傳 NoDeadline
func (l *actuationList) earliest() types.Timestamp {
	if len(l.items) == 0 {
		return types.NoDeadline
	}
	return l.items[0].event.Tag.Timestamp
}

// popDue removes every actuation whose tag has been reached.
func (l *actuationList) popDue(now types.Timestamp) []pendingActuation {
	n := 0
	for n < len(l.items) && l.items[n].event.Tag.Timestamp <= now {
		n++
	}
	if n == 0 {
		return nil
	}
	due := make([]pendingActuation, n)
	copy(due, l.items[:n])
	rest := copy(l.items, l.items[n:])
	for i := rest; i < len(l.items); i++ {
		l.items[i] = pendingActuation{}
	}
	l.items = l.items[:rest]
	return due
}

func (l *actuationList) len() int { return len(l.items) }
