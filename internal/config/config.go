// Package config 載入平台的 YAML 設定：靜態演員圖與周邊元件
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 設定值不合法
var ErrInvalidConfig = errors.New("invalid config")

// Clock 模式
const (
	ClockSystem = "system"
	ClockManual = "manual"
)

type Config struct {
	Platform   PlatformConfig   `yaml:"platform"`
	Priorities PriorityConfig   `yaml:"priorities"`
	Actors     []ActorConfig    `yaml:"actors"`
	Stimulus   []StimulusConfig `yaml:"stimulus,omitempty"`
	Transport  TransportConfig  `yaml:"transport"`
	Status     StatusConfig     `yaml:"status"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Trace      TraceConfig      `yaml:"trace"`
	Report     ReportConfig     `yaml:"report"`
}

type PlatformConfig struct {
	ID             string `yaml:"id"`
	PoolCapacity   int    `yaml:"pool_capacity"`
	InterruptSlots int    `yaml:"interrupt_slots"`
	ActuationSlots int    `yaml:"actuation_slots"`
	Clock          string `yaml:"clock"` // system | manual
	// 計時器晚到多久以內的致動仍算準時
	ActuationTolerance time.Duration `yaml:"actuation_tolerance"`
}

// PriorityConfig 虛擬中斷優先級，數字越大越優先
type PriorityConfig struct {
	Timer   int `yaml:"timer"`
	Network int `yaml:"network"`
	Sensor  int `yaml:"sensor"`
}

type ActorConfig struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Next         []string      `yaml:"next,omitempty"`
	ModelDelay   time.Duration `yaml:"model_delay,omitempty"`
	BoundedDelay time.Duration `yaml:"bounded_delay,omitempty"`
	Period       time.Duration `yaml:"period,omitempty"`
	Offset       *int64        `yaml:"offset,omitempty"`
	Transmit     bool          `yaml:"transmit,omitempty"`
	Priority     int           `yaml:"priority,omitempty"`
}

// StimulusConfig 週期性的感測器刺激
type StimulusConfig struct {
	Actor      string        `yaml:"actor"`
	Interval   time.Duration `yaml:"interval"`
	Delay      time.Duration `yaml:"delay,omitempty"` // 第一次刺激前的等待
	StartValue int64         `yaml:"start_value,omitempty"`
	Count      int           `yaml:"count,omitempty"` // 0 表示不限
}

type TransportConfig struct {
	Listen         string        `yaml:"listen,omitempty"`
	Peer           string        `yaml:"peer,omitempty"`
	InboundActor   string        `yaml:"inbound_actor,omitempty"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	OutboundBuffer int           `yaml:"outbound_buffer"`
}

type StatusConfig struct {
	Interval time.Duration `yaml:"interval"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id,omitempty"`
	QoS      byte   `yaml:"qos"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TraceConfig struct {
	Path          string        `yaml:"path,omitempty"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Arms          bool          `yaml:"arms,omitempty"`
}

type ReportConfig struct {
	Path   string `yaml:"path,omitempty"`
	Misses int    `yaml:"misses"`
}

// Load 讀取並驗證設定檔
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML、填入預設值並驗證
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal 輸出 YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyDefaults 補上未設定的欄位
func (c *Config) ApplyDefaults() {
	def := scheduler.DefaultConfig()

	if c.Platform.ID == "" {
		c.Platform.ID = "platform-" + uuid.NewString()
	}
	if c.Platform.PoolCapacity == 0 {
		c.Platform.PoolCapacity = def.PoolCapacity
	}
	if c.Platform.InterruptSlots == 0 {
		c.Platform.InterruptSlots = def.InterruptSlots
	}
	if c.Platform.ActuationSlots == 0 {
		c.Platform.ActuationSlots = def.ActuationSlots
	}
	if c.Platform.Clock == "" {
		c.Platform.Clock = ClockSystem
	}
	if c.Platform.ActuationTolerance == 0 {
		c.Platform.ActuationTolerance = def.ActuationTolerance.Duration()
	}
	if c.Priorities == (PriorityConfig{}) {
		c.Priorities = PriorityConfig{
			Timer:   def.TimerPriority,
			Network: def.NetworkPriority,
			Sensor:  def.SensorPriority,
		}
	}
	if c.Transport.SendTimeout == 0 {
		c.Transport.SendTimeout = 100 * time.Millisecond
	}
	if c.Transport.OutboundBuffer == 0 {
		c.Transport.OutboundBuffer = 64
	}
	if c.Status.Interval == 0 {
		c.Status.Interval = time.Second
	}
	if c.Status.MQTT.Topic == "" {
		c.Status.MQTT.Topic = "ptides"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Trace.BufferSize == 0 {
		c.Trace.BufferSize = 256
	}
	if c.Trace.FlushInterval == 0 {
		c.Trace.FlushInterval = time.Second
	}
	if c.Report.Misses == 0 {
		c.Report.Misses = 16
	}
}

// Validate 檢查設定值；圖的結構錯誤（環、延遲順序）由 graph.Build 回報
func (c *Config) Validate() error {
	switch {
	case c.Platform.PoolCapacity < 1:
		return invalidf("platform.pool_capacity must be positive, got %d", c.Platform.PoolCapacity)
	case c.Platform.InterruptSlots < 1:
		return invalidf("platform.interrupt_slots must be positive, got %d", c.Platform.InterruptSlots)
	case c.Platform.ActuationSlots < 1:
		return invalidf("platform.actuation_slots must be positive, got %d", c.Platform.ActuationSlots)
	case c.Platform.Clock != ClockSystem && c.Platform.Clock != ClockManual:
		return invalidf("platform.clock must be %q or %q, got %q", ClockSystem, ClockManual, c.Platform.Clock)
	case c.Platform.ActuationTolerance < 0:
		return invalidf("platform.actuation_tolerance must not be negative, got %s", c.Platform.ActuationTolerance)
	case c.Priorities.Timer < 0 || c.Priorities.Network < 0 || c.Priorities.Sensor < 0:
		return invalidf("priorities must not be negative")
	case len(c.Actors) == 0:
		return invalidf("no actors configured")
	}

	kinds := make(map[string]string, len(c.Actors))
	transmits := false
	for _, a := range c.Actors {
		kinds[a.Name] = a.Kind
		transmits = transmits || a.Transmit
	}
	isSensor := func(name string) bool {
		k, ok := kinds[name]
		return ok && k == "sensor"
	}

	for i, s := range c.Stimulus {
		if !isSensor(s.Actor) {
			return invalidf("stimulus[%d]: %q is not a sensor actor", i, s.Actor)
		}
		if s.Interval <= 0 {
			return invalidf("stimulus[%d]: interval must be positive", i)
		}
		if s.Delay < 0 || s.Count < 0 {
			return invalidf("stimulus[%d]: delay and count must not be negative", i)
		}
	}

	if c.Transport.InboundActor != "" && !isSensor(c.Transport.InboundActor) {
		return invalidf("transport.inbound_actor %q is not a sensor actor", c.Transport.InboundActor)
	}
	if c.Transport.Listen != "" && c.Transport.InboundActor == "" {
		return invalidf("transport.listen requires transport.inbound_actor")
	}
	if c.Transport.SendTimeout < 0 || c.Transport.OutboundBuffer < 0 {
		return invalidf("transport.send_timeout and outbound_buffer must not be negative")
	}
	if transmits && c.Transport.Peer == "" && c.Platform.Clock == ClockSystem {
		return invalidf("a transmitting actor needs transport.peer")
	}

	if c.Status.Interval < 0 {
		return invalidf("status.interval must not be negative")
	}
	if c.Status.MQTT.QoS > 2 {
		return invalidf("status.mqtt.qos must be 0, 1 or 2")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalidf("metrics.port out of range: %d", c.Metrics.Port)
	}
	if c.Trace.BufferSize < 0 || c.Report.Misses < 0 {
		return invalidf("trace.buffer_size and report.misses must not be negative")
	}
	return nil
}

// GraphSpecs 轉成 graph.Build 的輸入
func (c *Config) GraphSpecs() []graph.Spec {
	specs := make([]graph.Spec, 0, len(c.Actors))
	for _, a := range c.Actors {
		specs = append(specs, graph.Spec{
			Name:         a.Name,
			Kind:         a.Kind,
			Next:         append([]string(nil), a.Next...),
			ModelDelay:   a.ModelDelay,
			BoundedDelay: a.BoundedDelay,
			Period:       a.Period,
			Offset:       a.Offset,
			Transmit:     a.Transmit,
			Priority:     a.Priority,
		})
	}
	return specs
}

// BuildGraph 建立並分析演員圖
func (c *Config) BuildGraph() (*graph.Graph, error) {
	return graph.Build(c.GraphSpecs())
}

// SchedulerConfig 排程器設定；Sender、Observer、Logger 由平台補上
func (c *Config) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.PoolCapacity = c.Platform.PoolCapacity
	cfg.InterruptSlots = c.Platform.InterruptSlots
	cfg.ActuationSlots = c.Platform.ActuationSlots
	cfg.ActuationTolerance = types.FromDuration(c.Platform.ActuationTolerance)
	cfg.TimerPriority = c.Priorities.Timer
	cfg.NetworkPriority = c.Priorities.Network
	cfg.SensorPriority = c.Priorities.Sensor
	return cfg
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
