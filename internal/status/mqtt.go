package status

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTOptions broker 連線設定
type MQTTOptions struct {
	Broker   string // host:port
	ClientID string // 空字串時產生 ptides-<uuid>
	Topic    string
	QoS      byte
	Buffer   int // 待發佈緩衝，預設 64
}

// MQTTSink 把狀態行發佈到 <topic>/<position>
//
// WriteStatus 只把訊息放進緩衝；發佈由背景 goroutine 完成，
// 緩衝滿時丟棄並計數。
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	out    chan message
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	published map[string]uint64
	errors    uint64
	dropped   atomic.Uint64
}

type message struct {
	topic   string
	payload string
}

// DialMQTT 連線到 broker 並建立 Sink
func DialMQTT(ctx context.Context, o MQTTOptions) (*MQTTSink, error) {
	if o.ClientID == "" {
		o.ClientID = "ptides-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", o.Broker))
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", o.Broker, "client_id", o.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", o.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", o.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewMQTTSink(client, o.Topic, o.QoS, o.Buffer), nil
}

// NewMQTTSink 以已連線的 client 建立 Sink 並啟動發佈 goroutine
func NewMQTTSink(client mqtt.Client, topic string, qos byte, buffer int) *MQTTSink {
	if buffer <= 0 {
		buffer = 64
	}
	s := &MQTTSink{
		client:    client,
		topic:     topic,
		qos:       qos,
		out:       make(chan message, buffer),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
	s.wg.Add(1)
	go s.publishLoop()
	return s
}

func (s *MQTTSink) WriteStatus(text string, position int) {
	msg := message{topic: s.topic + "/" + strconv.Itoa(position), payload: text}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.dropped.Add(1)
	}
}

func (s *MQTTSink) publishLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.out:
			s.publish(msg)
		case <-s.done:
			// 送完剩下的
			for {
				select {
				case msg := <-s.out:
					s.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *MQTTSink) publish(msg message) {
	token := s.client.Publish(msg.topic, s.qos, false, msg.payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.countError(msg.topic, fmt.Errorf("publish timeout"))
		return
	}
	if err := token.Error(); err != nil {
		s.countError(msg.topic, err)
		return
	}
	s.mu.Lock()
	s.published[msg.topic]++
	s.mu.Unlock()
}

func (s *MQTTSink) countError(topic string, err error) {
	s.mu.Lock()
	s.errors++
	first := s.errors == 1
	s.mu.Unlock()
	if first {
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// Close 送完緩衝後斷線
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	if s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	return nil
}

// MQTTStats 發佈統計
type MQTTStats struct {
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

func (s *MQTTSink) Stats() MQTTStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return MQTTStats{Published: published, Dropped: s.dropped.Load(), Errors: s.errors}
}
