package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	// ErrQueueFull 送出佇列已滿，事件被丟棄
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClosed transport 已關閉
	ErrClosed = errors.New("transport closed")
)

// ClientConfig GrpcTransport 設定
type ClientConfig struct {
	Peer           string
	SendTimeout    time.Duration
	OutboundBuffer int
	DialOptions    []grpc.DialOption
}

// GrpcTransport 將事件送往遠端平台
//
// Send 只做非阻塞的排隊（會在觸發方法中被呼叫），
// 實際的 RPC 由背景 goroutine 依序送出。
type GrpcTransport struct {
	cfg ClientConfig
	log *slog.Logger

	// Cache connections to peers to avoid reconnecting every time
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	out     chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	sent    uint64
	dropped uint64
	failed  uint64
}

// NewGrpcTransport creates a new GrpcTransport
func NewGrpcTransport(cfg ClientConfig) *GrpcTransport {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 100 * time.Millisecond
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 64
	}
	return &GrpcTransport{
		cfg:   cfg,
		log:   slog.With("component", "transport", "peer", cfg.Peer),
		conns: make(map[string]*grpc.ClientConn),
		out:   make(chan []byte, cfg.OutboundBuffer),
		done:  make(chan struct{}),
	}
}

// Start 啟動背景送出 goroutine
func (t *GrpcTransport) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.sendLoop(ctx)
}

// Send 將事件排入送出佇列
func (t *GrpcTransport) Send(ev types.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	select {
	case t.out <- Encode(ev):
		return nil
	default:
		t.dropped++
		return fmt.Errorf("%w: %d buffered", ErrQueueFull, cap(t.out))
	}
}

// Close 停止送出並關閉所有連線；已排隊但尚未送出的事件會被丟棄
func (t *GrpcTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for addr, conn := range t.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(t.conns, addr)
	}
	return errors.Join(errs...)
}

// Counters returns sent, dropped and failed frame counts.
func (t *GrpcTransport) Counters() (sent, dropped, failed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.dropped, t.failed
}

func (t *GrpcTransport) sendLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case frame := <-t.out:
			err := t.deliver(ctx, t.cfg.Peer, frame)
			t.mu.Lock()
			if err != nil {
				t.failed++
			} else {
				t.sent++
			}
			t.mu.Unlock()
			if err != nil {
				t.log.Warn("deliver failed", "err", err)
			}
		}
	}
}

// getConn returns a cached connection for the given peer address
func (t *GrpcTransport) getConn(peerAddr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peerAddr]; ok {
		return conn, nil
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, t.cfg.DialOptions...)
	conn, err := grpc.NewClient(peerAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial peer %s: %w", peerAddr, err)
	}
	t.conns[peerAddr] = conn
	return conn, nil
}

func (t *GrpcTransport) deliver(ctx context.Context, peer string, frame []byte) error {
	conn, err := t.getConn(peer)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()
	return conn.Invoke(ctx, deliverMethod, &wrapperspb.BytesValue{Value: frame}, &emptypb.Empty{})
}
