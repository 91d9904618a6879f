package status

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Sink               = LogSink{}
	_ Sink               = (*MQTTSink)(nil)
	_ scheduler.Observer = (*Reporter)(nil)
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakeClient 只實作 Sink 會用到的方法
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	topics       []string
	payloads     []string
	fail         error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return doneToken{err: c.fail}
	}
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.(string))
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewWriterSink(&buf).WriteStatus("hello", 2)
	assert.Equal(t, "[2] hello\n", buf.String())
}

func TestBoardAndMulti(t *testing.T) {
	a, b := NewBoard(), NewBoard()
	m := Multi{a, b}
	m.WriteStatus("one", 0)
	m.WriteStatus("two", 0)

	assert.Equal(t, "two", a.Line(0))
	assert.Equal(t, 2, b.Count(0))
	assert.Empty(t, a.Line(1))
}

func TestReporterPositions(t *testing.T) {
	board := NewBoard()
	r := NewReporter(board)

	r.OnActuate(types.Actuation{Actor: "act", Value: 3, Tag: types.Tag{Timestamp: types.FromDuration(7 * time.Millisecond)}})
	r.OnMiss(types.DeadlineMiss{Actor: "act", Lateness: types.FromDuration(time.Millisecond)})
	r.OnDispatch(scheduler.Dispatch{})

	assert.Contains(t, board.Line(PositionActuation), "actuate act value=3 tag=7ms.0")
	assert.Contains(t, board.Line(PositionMiss), "late=1ms")
	assert.Zero(t, board.Count(PositionSummary))
}

func TestSummary(t *testing.T) {
	line := Summary("platform-a", types.FromDuration(time.Second), scheduler.Stats{Admitted: 4, Misses: 1})
	assert.Contains(t, line, "platform-a now=1s")
	assert.Contains(t, line, "admitted=4")
	assert.Contains(t, line, "misses=1")
}

func TestMQTTSinkPublishesPerPosition(t *testing.T) {
	client := &fakeClient{}
	sink := NewMQTTSink(client, "ptides/a", 0, 8)

	sink.WriteStatus("summary", PositionSummary)
	sink.WriteStatus("actuate", PositionActuation)
	require.NoError(t, sink.Close())

	client.mu.Lock()
	assert.Equal(t, []string{"ptides/a/0", "ptides/a/1"}, client.topics)
	assert.Equal(t, []string{"summary", "actuate"}, client.payloads)
	assert.True(t, client.disconnected)
	client.mu.Unlock()

	st := sink.Stats()
	assert.Equal(t, uint64(1), st.Published["ptides/a/0"])
	assert.Zero(t, st.Errors)

	// 關閉後的寫入直接忽略
	sink.WriteStatus("late", 0)
	assert.NoError(t, sink.Close())
}

func TestMQTTSinkCountsErrors(t *testing.T) {
	client := &fakeClient{fail: errors.New("broker down")}
	sink := NewMQTTSink(client, "ptides", 0, 8)
	sink.WriteStatus("x", 0)
	sink.WriteStatus("y", 1)
	require.NoError(t, sink.Close())

	st := sink.Stats()
	assert.Equal(t, uint64(2), st.Errors)
	assert.Empty(t, st.Published)
}
