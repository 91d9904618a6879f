// ============================================================================
// PTIDES Actor - 靜態資料流圖的節點
// ============================================================================
//
// Package: internal/actor
// 文件: actor.go
// 功能: 演員種類、演員狀態、重入保護
//
// 演員在啟動時建立一次，整個程序生命週期都不會改變拓撲。
// Deadline / MultipleInputs / Adjustment 由 graph 套件在啟動時計算，之後唯讀。
// firing 是唯一在執行期會改變的欄位，只能在 scheduler 的臨界區內讀寫。
//
// ============================================================================

package actor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

var (
	// ErrUnknownKind 演員種類未設定或無法識別（圖建構錯誤）
	ErrUnknownKind = errors.New("unknown actor kind")
	// ErrNotDispatchable 該種類的演員不能從事件佇列觸發
	ErrNotDispatchable = errors.New("actor is not dispatchable from the event queue")
)

// Kind 演員種類
type Kind int

const (
	KindUnknown Kind = iota
	KindSensor
	KindClock
	KindComputation
	KindModelDelay
	KindMerge
	KindActuator
)

var kindNames = map[Kind]string{
	KindSensor:      "sensor",
	KindClock:       "clock",
	KindComputation: "computation",
	KindModelDelay:  "model_delay",
	KindMerge:       "merge",
	KindActuator:    "actuator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind 將設定檔中的字串轉為 Kind
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if normalized == "modeldelay" {
		normalized = "model_delay"
	}
	for k, name := range kindNames {
		if name == normalized {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MaxSuccessors 每個演員最多兩個後繼
const MaxSuccessors = 2

// Actor 資料流圖中的一個節點
type Actor struct {
	ID   types.ActorID
	Name string
	Kind Kind

	// Next 後繼演員，未使用的位置為 types.NoActor
	Next [MaxSuccessors]types.ActorID

	ModelDelay   types.Timestamp // 加到名義標籤上
	BoundedDelay types.Timestamp // 加到排序標籤上
	Period       types.Timestamp // clock only
	Offset       types.Value     // computation only
	Transmit     bool            // model-delay: 輸出送往遠端平台
	Priority     int             // sensor/network 中斷優先級

	// 啟動時計算，之後唯讀
	Deadline       types.Timestamp
	MultipleInputs bool
	Adjustment     types.Timestamp

	firing bool
}

// New 建立沒有後繼的演員
func New(id types.ActorID, name string, kind Kind) *Actor {
	return &Actor{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Next:     [MaxSuccessors]types.ActorID{types.NoActor, types.NoActor},
		Offset:   1,
		Deadline: types.NoDeadline,
	}
}

// Successors returns the wired successor ids, skipping empty positions.
func (a *Actor) Successors() []types.ActorID {
	out := make([]types.ActorID, 0, MaxSuccessors)
	for _, id := range a.Next {
		if id != types.NoActor {
			out = append(out, id)
		}
	}
	return out
}

// Terminal 沒有任何後繼
func (a *Actor) Terminal() bool {
	return a.Next[0] == types.NoActor && a.Next[1] == types.NoActor
}

// BeginFire marks the actor as firing. It returns false when the actor is
// already mid-fire; the caller must hold the scheduler mask.
func (a *Actor) BeginFire() bool {
	if a.firing {
		return false
	}
	a.firing = true
	return true
}

// EndFire clears the firing flag. Caller must hold the scheduler mask.
func (a *Actor) EndFire() {
	a.firing = false
}

// Firing 是否正在觸發中
func (a *Actor) Firing() bool {
	return a.firing
}

func (a *Actor) String() string {
	return fmt.Sprintf("%s(%s)", a.Name, a.Kind)
}
