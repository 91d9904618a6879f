package trace

// ============================================================================
// 追蹤日誌核心實作
// 職責：
// 1. 以 JSON lines 追加 scheduler 的每個決策（append-only）
// 2. 批次寫入：緩衝滿、超時或強制時才寫檔
// 3. 重放並驗證校驗和
// 4. 旋轉日誌檔案
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileInterface 定義檔案操作所需的方法
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options 日誌設定
type Options struct {
	BufferSize    int           // 緩衝筆數，預設 256
	FlushInterval time.Duration // 最長未寫檔時間，預設 1s
	SyncOnFlush   bool          // 每次 flush 後 fsync
}

// Log 追蹤日誌實例
type Log struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	path    string
	seq     uint64
	closed  bool
	opts    Options

	buffer        []Record
	lastFlushTime time.Time
}

// Open 建立或開啟追蹤日誌
//
// 檔案已存在時，seq 從最後一筆記錄繼續編號。
func Open(path string, opts Options) (*Log, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	var seq uint64
	if err := ReadFile(path, func(rec Record) error {
		seq = rec.Seq
		return nil
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("trace: resume %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	return &Log{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Record, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}, nil
}

// Path 日誌檔案路徑
func (l *Log) Path() string { return l.path }

// Append 追加一筆記錄，Seq 與 Checksum 由日誌填入
func (l *Log) Append(rec Record, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	l.seq++
	rec.Seq = l.seq
	rec.Checksum = Sum(rec)
	l.buffer = append(l.buffer, rec)

	if force || len(l.buffer) >= l.opts.BufferSize || time.Since(l.lastFlushTime) > l.opts.FlushInterval {
		return l.flushLocked()
	}
	return nil
}

// Flush 把緩衝寫入檔案
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.flushLocked()
}

// Replay 先 flush，再從頭重放整個檔案
func (l *Log) Replay(handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		if err := l.flushLocked(); err != nil {
			return err
		}
	}
	return ReadFile(l.path, handler)
}

// Rotate 把目前的檔案改名為 path.YYYYMMDD_HHMMSS 並重新開始
//
// 回傳備份檔路徑。
func (l *Log) Rotate() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}

	if err := l.flushLocked(); err != nil {
		return "", err
	}
	if err := l.file.Close(); err != nil {
		return "", err
	}

	backupPath := l.path + "." + time.Now().Format("20060102_150405.000000000")
	if err := os.Rename(l.path, backupPath); err != nil {
		return "", err
	}

	newFile, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}

	l.file = newFile
	l.encoder = json.NewEncoder(newFile)
	l.seq = 0
	l.buffer = l.buffer[:0]
	l.lastFlushTime = time.Now()
	return backupPath, nil
}

// LastSeq 目前的記錄序號
func (l *Log) LastSeq() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close flush 後關閉檔案，之後的 Append 回傳 ErrClosed
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.flushLocked(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// flushLocked 假設調用者已經持有 l.mu
func (l *Log) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}
	for _, rec := range l.buffer {
		if err := l.encoder.Encode(rec); err != nil {
			return err
		}
	}
	l.buffer = l.buffer[:0]
	l.lastFlushTime = time.Now()
	if l.opts.SyncOnFlush {
		return l.file.Sync()
	}
	return nil
}

// ============================================================================
// 檔案層級工具
// ============================================================================

// ReadFile 依序讀取檔案中的記錄並驗證校驗和
//
// 遇到第一個錯誤就停止。
func ReadFile(path string, handler Handler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Read(f, handler)
}

// Read 從任意 reader 讀取記錄
func Read(r io.Reader, handler Handler) error {
	decoder := json.NewDecoder(r)
	var last uint64
	for decoder.More() {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			return fmt.Errorf("%w after seq=%d: %v", ErrCorrupted, last, err)
		}
		if err := Verify(rec); err != nil {
			return err
		}
		if err := handler(rec); err != nil {
			return err
		}
		last = rec.Seq
	}
	return nil
}

// Summary 日誌的統計資訊
type Summary struct {
	Records   int            `json:"records"`
	FirstSeq  uint64         `json:"first_seq"`
	LastSeq   uint64         `json:"last_seq"`
	ByKind    map[Kind]int   `json:"by_kind"`
	Misses    map[string]int `json:"misses"` // 各致動器錯過次數
	MinSlack  *Record        `json:"min_slack,omitempty"`
	MaxLate   *Record        `json:"max_late,omitempty"`
	Actuators map[string]int `json:"actuations"`
}

// Summarize 掃描整個檔案並彙總
func Summarize(path string) (*Summary, error) {
	s := &Summary{
		ByKind:    make(map[Kind]int),
		Misses:    make(map[string]int),
		Actuators: make(map[string]int),
	}
	err := ReadFile(path, func(rec Record) error {
		if s.Records == 0 {
			s.FirstSeq = rec.Seq
		}
		s.Records++
		s.LastSeq = rec.Seq
		s.ByKind[rec.Kind]++

		switch rec.Kind {
		case KindDispatch:
			if s.MinSlack == nil || rec.Slack < s.MinSlack.Slack {
				r := rec
				s.MinSlack = &r
			}
		case KindActuate:
			s.Actuators[rec.Actor]++
		case KindMiss:
			s.Misses[rec.Actor]++
			if s.MaxLate == nil || rec.Slack > s.MaxLate.Slack {
				r := rec
				s.MaxLate = &r
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
