package scheduler

import (
	"fmt"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Source 虛擬中斷來源
type Source int

const (
	SourceTimer Source = iota
	SourceSensor
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceTimer:
		return "timer"
	case SourceSensor:
		return "sensor"
	case SourceNetwork:
		return "network"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Interrupt 一個待處理的虛擬中斷
type Interrupt struct {
	Source   Source
	Priority int
	Actor    types.ActorID // sensor / inbound actor，timer 為 NoActor
	Value    types.Value
	Tag      types.Tag // 中斷發生時蓋上的標籤
}

// idleLevel 沒有任何中斷在服務時的優先級
const idleLevel = -1

// interruptTable 固定容量的待處理中斷表
//
// 依優先級遞減排列，同優先級依到達順序；滿了就拒絕（不會覆蓋）。
type interruptTable struct {
	slots []Interrupt
	n     int
}

func newInterruptTable(capacity int) *interruptTable {
	if capacity <= 0 {
		capacity = 1
	}
	return &interruptTable{slots: make([]Interrupt, capacity)}
}

func (t *interruptTable) push(irq Interrupt) error {
	if t.n == len(t.slots) {
		return fmt.Errorf("%w: %d pending", ErrInterruptOverrun, t.n)
	}
	if irq.Priority < 0 {
		irq.Priority = 0
	}

	// 插在第一個優先級較低的項目之前
	i := 0
	for i < t.n && t.slots[i].Priority >= irq.Priority {
		i++
	}
	copy(t.slots[i+1:t.n+1], t.slots[i:t.n])
	t.slots[i] = irq
	t.n++
	return nil
}

// popAbove removes the highest-priority interrupt if its priority is
// strictly greater than level.
func (t *interruptTable) popAbove(level int) (Interrupt, bool) {
	if t.n == 0 || t.slots[0].Priority <= level {
		return Interrupt{}, false
	}
	irq := t.slots[0]
	copy(t.slots[0:t.n-1], t.slots[1:t.n])
	t.n--
	t.slots[t.n] = Interrupt{}
	return irq, true
}

func (t *interruptTable) hasSource(src Source) bool {
	for i := 0; i < t.n; i++ {
		if t.slots[i].Source == src {
			return true
		}
	}
	return false
}

func (t *interruptTable) len() int { return t.n }

func (t *interruptTable) clear() {
	for i := range t.slots[:t.n] {
		t.slots[i] = Interrupt{}
	}
	t.n = 0
}
