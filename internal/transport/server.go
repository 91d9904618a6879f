package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Receiver 接收解碼後的事件（平台把它轉成網路中斷）
type Receiver interface {
	Receive(value types.Value, tag types.Tag) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(value types.Value, tag types.Tag) error

func (f ReceiverFunc) Receive(value types.Value, tag types.Tag) error { return f(value, tag) }

// Server implements the gRPC EventTransport service.
type Server struct {
	recv Receiver
	log  *slog.Logger

	mu   sync.Mutex
	grpc *grpc.Server
	lis  net.Listener
}

// NewServer creates a new gRPC server instance.
func NewServer(recv Receiver, opts ...grpc.ServerOption) *Server {
	s := &Server{
		recv: recv,
		log:  slog.With("component", "transport-server"),
		grpc: grpc.NewServer(opts...),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// Deliver handles one inbound event frame.
func (s *Server) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	pkt, err := Decode(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.recv.Receive(pkt.Value, pkt.Tag); err != nil {
		s.log.Warn("inbound event rejected", "tag", pkt.Tag, "err", err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Listen 綁定位址；addr 可用 ":0" 取得隨機埠
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	return nil
}

// Addr 實際綁定的位址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Serve 阻塞直到 Stop
func (s *Server) Serve() error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		return errors.New("transport server: Listen not called")
	}
	s.log.Info("serving", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop 優雅停止
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
