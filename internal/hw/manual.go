package hw

import (
	"sync"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// ManualClock 手動推進的時鐘
//
// 時間推進時會依序停在每一個到期的計時器時間點，
// 所以計時器回呼看到的 Now() 正好等於設定的時間。
// ArmTimer 不會同步觸發回呼，即使設定的時間已經過去；
// 要等到下一次 Set/Advance。
type ManualClock struct {
	mu      sync.Mutex
	now     types.Timestamp
	armed   types.Timestamp
	arms    int
	handler func()
}

// NewManualClock 建立從 start 開始的手動時鐘
func NewManualClock(start types.Timestamp) *ManualClock {
	return &ManualClock{now: start, armed: types.NoDeadline}
}

// Now 目前時間
func (c *ManualClock) Now() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// ArmTimer 取代先前的計時器
func (c *ManualClock) ArmTimer(at types.Timestamp) {
	c.mu.Lock()
	c.armed = at
	c.arms++
	c.mu.Unlock()
}

// CancelTimer 取消計時器
func (c *ManualClock) CancelTimer() {
	c.mu.Lock()
	c.armed = types.NoDeadline
	c.mu.Unlock()
}

// SetAlarmHandler 設定到期回呼
func (c *ManualClock) SetAlarmHandler(fn func()) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Armed returns the pending timer instant, if any.
func (c *ManualClock) Armed() (types.Timestamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed, c.armed != types.NoDeadline
}

// Arms 計時器被設定的總次數
func (c *ManualClock) Arms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arms
}

// Set 將時間推進到 t，途中觸發所有到期的計時器。時間不會倒退。
func (c *ManualClock) Set(t types.Timestamp) {
	for {
		c.mu.Lock()
		if c.armed == types.NoDeadline || c.armed > t {
			if t > c.now {
				c.now = t
			}
			c.mu.Unlock()
			return
		}
		if c.armed > c.now {
			c.now = c.armed
		}
		c.armed = types.NoDeadline
		h := c.handler
		c.mu.Unlock()

		if h != nil {
			h()
		}
	}
}

// Advance 將時間往前推 d
func (c *ManualClock) Advance(d types.Timestamp) {
	c.Set(c.Now() + d)
}
