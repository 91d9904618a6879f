package scheduler

import "sync"

// interruptMask 全域中斷遮罩
//
// pool、queue、中斷表、致動表只能在 Disable/Restore 之間修改。
// 臨界區必須很短：不得在其中呼叫觸發方法、transport、observer，
// 也不得呼叫 Clock.ArmTimer。
type interruptMask struct {
	mu sync.Mutex
}

// Disable 關閉中斷
func (m *interruptMask) Disable() { m.mu.Lock() }

// Restore 恢復中斷
func (m *interruptMask) Restore() { m.mu.Unlock() }
