package hw

import (
	"sync"
	"time"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// SystemClock 以程序啟動時間為 epoch 的單調時鐘
type SystemClock struct {
	epoch time.Time

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // 每次 Arm/Cancel 加一，過期的回呼直接丟棄
	handler func()
}

// NewSystemClock 建立系統時鐘
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// Now uses the monotonic reading carried by time.Time.
func (c *SystemClock) Now() types.Timestamp {
	return types.FromDuration(time.Since(c.epoch))
}

// ArmTimer 取代先前的計時器
func (c *SystemClock) ArmTimer(at types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen

	d := (at - c.Now()).Duration()
	if d < 0 {
		d = 0
	}
	c.timer = time.AfterFunc(d, func() { c.expire(gen) })
}

// CancelTimer 取消計時器
func (c *SystemClock) CancelTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// SetAlarmHandler 設定到期回呼
func (c *SystemClock) SetAlarmHandler(fn func()) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *SystemClock) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		// 已被新的設定取代
		c.mu.Unlock()
		return
	}
	c.timer = nil
	h := c.handler
	c.mu.Unlock()

	if h != nil {
		h()
	}
}
