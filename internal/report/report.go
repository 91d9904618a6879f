package report

// ============================================================================
// 職責說明：
// 1. 平台停止時把執行結果序列化為 JSON 報告
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// SchemaVersion 目前的報告格式版本
const SchemaVersion = 1

var (
	ErrCorruptedReport     = errors.New("report file is corrupted")
	ErrIncompatibleVersion = errors.New("report schema version is incompatible")
	ErrReportNotFound      = errors.New("report file not found")
)

// ActorReport 單一演員的靜態分析結果
type ActorReport struct {
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	Deadline       types.Timestamp `json:"deadline"`
	MultipleInputs bool            `json:"multiple_inputs"`
	Adjustment     types.Timestamp `json:"adjustment"`
}

// RunReport 一次執行的摘要
type RunReport struct {
	SchemaVer  int                  `json:"schema_version"`
	PlatformID string               `json:"platform_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Now        types.Timestamp      `json:"now"` // 停止時的平台時間
	Stats      scheduler.Stats      `json:"stats"`
	Actors     []ActorReport        `json:"actors"`
	Misses     []types.DeadlineMiss `json:"misses"` // 最近的 N 筆
	TraceSeq   uint64               `json:"trace_seq,omitempty"`
	HaltError  string               `json:"halt_error,omitempty"`
}

// Actors 從圖中取出每個演員的截止時間與調整量
func Actors(g *graph.Graph) []ActorReport {
	out := make([]ActorReport, 0, g.Len())
	for _, a := range g.Actors() {
		out = append(out, ActorReport{
			Name:           a.Name,
			Kind:           a.Kind.String(),
			Deadline:       a.Deadline,
			MultipleInputs: a.MultipleInputs,
			Adjustment:     a.Adjustment,
		})
	}
	return out
}

// Manager 報告管理器
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager 建立報告管理器實例
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write 原子性寫入報告
//
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(r RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.SchemaVer = SchemaVersion

	jsonBytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp report: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

// Load 載入報告並驗證版本
func (m *Manager) Load() (RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r RunReport
	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, fmt.Errorf("%w: %s", ErrReportNotFound, m.path)
		}
		return r, fmt.Errorf("failed to read report: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}

	if r.SchemaVer != SchemaVersion {
		return r, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, r.SchemaVer, SchemaVersion)
	}
	return r, nil
}

// Exists 檢查報告檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得報告檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}
