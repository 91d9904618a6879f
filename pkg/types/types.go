// Package types 定義了 ptides-os 系統中使用的核心領域模型
package types

import (
	"fmt"
	"math"
	"time"
)

// Timestamp 平台實體時間（奈秒，自時鐘 epoch 起算）
type Timestamp int64

// NoDeadline 表示「沒有截止時間」的哨兵值，也用作「未設定計時器」
const NoDeadline Timestamp = math.MaxInt64

// FromDuration 將 time.Duration 轉為 Timestamp
func FromDuration(d time.Duration) Timestamp {
	return Timestamp(d)
}

// Duration 將 Timestamp 轉回 time.Duration
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t)
}

func (t Timestamp) String() string {
	if t == NoDeadline {
		return "none"
	}
	return time.Duration(t).String()
}

// Tag 事件的排序鍵：先比 Timestamp，再比 Microstep
type Tag struct {
	Timestamp Timestamp `json:"timestamp"`
	Microstep uint32    `json:"microstep"`
}

// Compare returns -1, 0 or +1 depending on whether t sorts before, equal to
// or after o.
func (t Tag) Compare(o Tag) int {
	switch {
	case t.Timestamp < o.Timestamp:
		return -1
	case t.Timestamp > o.Timestamp:
		return 1
	case t.Microstep < o.Microstep:
		return -1
	case t.Microstep > o.Microstep:
		return 1
	default:
		return 0
	}
}

// Less reports whether t sorts strictly before o.
func (t Tag) Less(o Tag) bool {
	return t.Compare(o) < 0
}

// Advance 將 timestamp 往後推 d，microstep 歸零
func (t Tag) Advance(d Timestamp) Tag {
	return Tag{Timestamp: t.Timestamp + d}
}

func (t Tag) String() string {
	return fmt.Sprintf("%s.%d", t.Timestamp, t.Microstep)
}

// ActorID 演員在靜態圖中的索引
type ActorID int

// NoActor 表示沒有後繼演員
const NoActor ActorID = -1

// Value 事件攜帶的資料
type Value int64

// Event 帶時間標籤的工作單元
//
// Tag 是名義時間（數值生效的時間），OrderTag 是事件佇列的排序鍵。
// 兩者在 model-delay 演員之後會刻意分開。
type Event struct {
	Value    Value   `json:"value"`
	Tag      Tag     `json:"tag"`       // 名義標籤
	OrderTag Tag     `json:"order_tag"` // 佇列排序標籤
	From     ActorID `json:"from"`      // 產生此事件的演員
	To       ActorID `json:"to"`        // 要觸發的演員
	Adjusted bool    `json:"adjusted"`  // 是否已做過靜態時序分析
}

// Actuation 一次成功（或已排程）的致動記錄
type Actuation struct {
	Actor string    `json:"actor"`
	Value Value     `json:"value"`
	Tag   Tag       `json:"tag"`
	At    Timestamp `json:"at"` // 實際執行時的實體時間
}

// DeadlineMiss 致動器檢查時名義時間已經過去
type DeadlineMiss struct {
	Actor    string    `json:"actor"`
	Value    Value     `json:"value"`
	Tag      Tag       `json:"tag"`
	Now      Timestamp `json:"now"`
	Lateness Timestamp `json:"lateness"`
}
