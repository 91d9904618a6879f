package trace

// ============================================================================
// 追蹤記錄型別
// 職責：定義追蹤日誌的記錄格式與校驗和
// ============================================================================

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Kind 記錄類型
type Kind string

const (
	KindAdmit    Kind = "ADMIT"    // 事件經中斷進入佇列
	KindAdjust   Kind = "ADJUST"   // 靜態時序分析調整了排序標籤
	KindDispatch Kind = "DISPATCH" // 事件派送給演員
	KindActuate  Kind = "ACTUATE"  // 致動完成
	KindMiss     Kind = "MISS"     // 錯過截止時間
	KindArm      Kind = "ARM"      // 計時器重新設定
)

// Record 一筆追蹤記錄（一行 JSON）
type Record struct {
	Seq      uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	Actor    string          `json:"actor,omitempty"`
	Source   string          `json:"source,omitempty"` // 只有 ADMIT 有
	Value    types.Value     `json:"value"`
	Tag      types.Tag       `json:"tag"`
	OrderTag types.Tag       `json:"order_tag"`
	Now      types.Timestamp `json:"now"`
	Slack    types.Timestamp `json:"slack,omitempty"` // DISPATCH 的餘裕，MISS 的延遲量
	Checksum uint32          `json:"checksum"`
}

// Handler 重放時處理每筆記錄
type Handler func(rec Record) error

var (
	// ErrChecksumMismatch 校驗和不符（檔案損壞或被修改）
	ErrChecksumMismatch = errors.New("trace: checksum mismatch")
	// ErrCorrupted 無法解析 JSON
	ErrCorrupted = errors.New("trace: file is corrupted")
	// ErrClosed 日誌已關閉
	ErrClosed = errors.New("trace: already closed")
)

// ChecksumError 帶有位置資訊的校驗和錯誤
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("trace: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// Sum 計算記錄的 CRC32-IEEE 校驗和，Checksum 欄位本身不參與
func Sum(rec Record) uint32 {
	data := fmt.Sprintf("%d|%s|%s|%s|%d|%d.%d|%d.%d|%d|%d",
		rec.Seq, rec.Kind, rec.Actor, rec.Source, rec.Value,
		rec.Tag.Timestamp, rec.Tag.Microstep,
		rec.OrderTag.Timestamp, rec.OrderTag.Microstep,
		rec.Now, rec.Slack)
	return crc32.ChecksumIEEE([]byte(data))
}

// Verify 檢查記錄的校驗和
func Verify(rec Record) error {
	if want := Sum(rec); want != rec.Checksum {
		return &ChecksumError{Seq: rec.Seq, Expected: want, Actual: rec.Checksum}
	}
	return nil
}
