package transport

import (
	"sync"

	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Loopback 在同一個程序內連接兩個平台
//
// 事件仍然經過 Encode/Decode，確保只有線上格式的欄位會被傳遞。
// Send 同步呼叫接收端。
type Loopback struct {
	mu   sync.Mutex
	recv Receiver
	sent uint64
}

// NewLoopback 建立 loopback；接收端可以之後再用 Connect 設定
func NewLoopback(recv Receiver) *Loopback {
	return &Loopback{recv: recv}
}

// Connect 設定接收端
func (l *Loopback) Connect(recv Receiver) {
	l.mu.Lock()
	l.recv = recv
	l.mu.Unlock()
}

// Send 編碼、解碼後交給接收端
func (l *Loopback) Send(ev types.Event) error {
	l.mu.Lock()
	recv := l.recv
	if recv != nil {
		l.sent++
	}
	l.mu.Unlock()
	if recv == nil {
		return ErrClosed
	}
	pkt, err := Decode(Encode(ev))
	if err != nil {
		return err
	}
	return recv.Receive(pkt.Value, pkt.Tag)
}

// Sent 送出的事件數
func (l *Loopback) Sent() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}
