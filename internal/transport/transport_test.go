package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type collector struct {
	mu      sync.Mutex
	packets []Packet
	err     error
}

func (c *collector) Receive(value types.Value, tag types.Tag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.packets = append(c.packets, Packet{Value: value, Tag: tag})
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func TestFrameLayout(t *testing.T) {
	ev := types.Event{
		Value: -2,
		Tag:   types.Tag{Timestamp: 0x0102030405060708, Microstep: 0x0a0b0c0d},
	}
	frame := Encode(ev)
	require.Len(t, frame, FrameSize)

	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}, frame[0:8])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, frame[8:16])
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d}, frame[16:20])

	pkt, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, ev.Value, pkt.Value)
	assert.Equal(t, ev.Tag, pkt.Tag)
}

func TestDecodeRejectsBadLength(t *testing.T) {
	_, err := Decode(make([]byte, FrameSize-1))
	assert.ErrorIs(t, err, ErrShortFrame)
	_, err = Decode(make([]byte, FrameSize+1))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestLoopback(t *testing.T) {
	c := &collector{}
	l := NewLoopback(nil)
	assert.ErrorIs(t, l.Send(types.Event{}), ErrClosed)

	l.Connect(c)
	require.NoError(t, l.Send(types.Event{Value: 3, Tag: types.Tag{Timestamp: 9}, OrderTag: types.Tag{Timestamp: 1}}))
	require.Equal(t, 1, c.len())
	assert.Equal(t, types.Value(3), c.packets[0].Value)
	// OrderTag 不在線上格式中
	assert.Equal(t, types.Timestamp(9), c.packets[0].Tag.Timestamp)
	assert.Equal(t, uint64(1), l.Sent())
}

func startServer(t *testing.T, recv Receiver) *Server {
	t.Helper()
	srv := NewServer(recv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)
	return srv
}

func TestGrpcRoundTrip(t *testing.T) {
	c := &collector{}
	srv := startServer(t, c)

	client := NewGrpcTransport(ClientConfig{Peer: srv.Addr(), SendTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	defer client.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(types.Event{Value: types.Value(i), Tag: types.Tag{Timestamp: types.Timestamp(i * 10)}}))
	}

	require.Eventually(t, func() bool { return c.len() == 3 }, 5*time.Second, 10*time.Millisecond)
	c.mu.Lock()
	for i, p := range c.packets {
		assert.Equal(t, types.Value(i), p.Value)
		assert.Equal(t, types.Timestamp(i*10), p.Tag.Timestamp)
	}
	c.mu.Unlock()

	require.Eventually(t, func() bool {
		sent, _, _ := client.Counters()
		return sent == 3
	}, 5*time.Second, 10*time.Millisecond)
	_, dropped, failed := client.Counters()
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestServerRejectsBadFrames(t *testing.T) {
	c := &collector{}
	srv := startServer(t, c)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = conn.Invoke(ctx, deliverMethod, &wrapperspb.BytesValue{Value: []byte{1, 2}}, &emptypb.Empty{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	c.mu.Lock()
	c.err = errors.New("halted")
	c.mu.Unlock()
	err = conn.Invoke(ctx, deliverMethod, &wrapperspb.BytesValue{Value: Encode(types.Event{})}, &emptypb.Empty{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestSendQueueFull(t *testing.T) {
	// 沒有 Start，送出佇列不會被消費
	client := NewGrpcTransport(ClientConfig{Peer: "127.0.0.1:1", OutboundBuffer: 2})
	require.NoError(t, client.Send(types.Event{}))
	require.NoError(t, client.Send(types.Event{}))
	assert.ErrorIs(t, client.Send(types.Event{}), ErrQueueFull)

	_, dropped, _ := client.Counters()
	assert.Equal(t, uint64(1), dropped)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(types.Event{}), ErrClosed)
}
