// ============================================================================
// Platform Clock - 實體時鐘與單一硬體計時器
// ============================================================================
//
// Package: internal/hw
// 文件: clock.go
// 功能: scheduler 使用的時鐘抽象
//
// 語意:
//   - Now() 單調遞增，單位與 Tag.Timestamp 相同（奈秒）
//   - 只有一個計時器：ArmTimer 會取代之前的設定，不會疊加
//   - 計時器到期時呼叫 alarm handler（相當於計時器中斷）
//
// 實作:
//   - SystemClock: time.AfterFunc，正式執行使用
//   - ManualClock: 時間只在 Set/Advance 時前進，測試與模擬使用
//
// ============================================================================

package hw

import "github.com/ChuLiYu/ptides-os/pkg/types"

// Clock 實體時鐘 + 單一一次性計時器
type Clock interface {
	Now() types.Timestamp
	// ArmTimer 設定計時器在 at 到期，取代任何先前的設定
	ArmTimer(at types.Timestamp)
	CancelTimer()
	// SetAlarmHandler 設定計時器到期時的回呼；回呼在無鎖狀態下執行
	SetAlarmHandler(fn func())
}
