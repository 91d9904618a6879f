package hw

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClockStopsAtEachTimer(t *testing.T) {
	c := NewManualClock(0)
	var seen []types.Timestamp
	c.SetAlarmHandler(func() {
		seen = append(seen, c.Now())
		if len(seen) == 1 {
			c.ArmTimer(7)
		}
	})

	c.ArmTimer(5)
	c.Set(10)

	assert.Equal(t, []types.Timestamp{5, 7}, seen)
	assert.Equal(t, types.Timestamp(10), c.Now())
	_, armed := c.Armed()
	assert.False(t, armed)
}

func TestManualClockReplacesTimer(t *testing.T) {
	c := NewManualClock(0)
	fired := 0
	c.SetAlarmHandler(func() { fired++ })

	c.ArmTimer(5)
	c.ArmTimer(9)
	at, ok := c.Armed()
	require.True(t, ok)
	assert.Equal(t, types.Timestamp(9), at)
	assert.Equal(t, 2, c.Arms())

	c.Advance(6)
	assert.Equal(t, 0, fired)
	c.Advance(3)
	assert.Equal(t, 1, fired)
}

func TestManualClockCancel(t *testing.T) {
	c := NewManualClock(0)
	fired := 0
	c.SetAlarmHandler(func() { fired++ })
	c.ArmTimer(1)
	c.CancelTimer()
	c.Set(100)
	assert.Equal(t, 0, fired)
}

func TestManualClockNeverGoesBack(t *testing.T) {
	c := NewManualClock(50)
	c.Set(10)
	assert.Equal(t, types.Timestamp(50), c.Now())
}

func TestSystemClockFiresOnce(t *testing.T) {
	c := NewSystemClock()
	var fired atomic.Int32
	c.SetAlarmHandler(func() { fired.Add(1) })

	// 第一個設定被取代，只會觸發一次
	c.ArmTimer(c.Now() + types.FromDuration(time.Hour))
	c.ArmTimer(c.Now() + types.FromDuration(5*time.Millisecond))

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSystemClockCancel(t *testing.T) {
	c := NewSystemClock()
	var fired atomic.Int32
	c.SetAlarmHandler(func() { fired.Add(1) })
	c.ArmTimer(c.Now() + types.FromDuration(10*time.Millisecond))
	c.CancelTimer()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystemClock()
	a := c.Now()
	time.Sleep(time.Millisecond)
	assert.Greater(t, c.Now(), a)
}
