package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/graph"
	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
actors:
  - name: s
    kind: sensor
    next: [md]
  - name: md
    kind: model_delay
    next: [act]
    model_delay: 7ms
    bounded_delay: 5ms
  - name: act
    kind: actuator
`

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "ptides.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "platform-a", cfg.Platform.ID)
	assert.Len(t, cfg.Actors, 9)
	assert.Len(t, cfg.Stimulus, 2)
	assert.Equal(t, 30*time.Millisecond, cfg.Stimulus[1].Interval)
	assert.Equal(t, int64(100), cfg.Stimulus[1].StartValue)

	g, err := cfg.BuildGraph()
	require.NoError(t, err)
	merge, ok := g.Lookup("merge")
	require.True(t, ok)
	assert.True(t, merge.MultipleInputs)
	// min(2ms-0, 3ms-1ms)
	assert.Equal(t, types.FromDuration(2*time.Millisecond), merge.Adjustment)

	comp, _ := g.Lookup("comp")
	assert.Equal(t, types.Value(10), comp.Offset)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cfg.Platform.ID, "platform-"))
	assert.Len(t, cfg.Platform.ID, len("platform-")+36)
	assert.Equal(t, 32, cfg.Platform.PoolCapacity)
	assert.Equal(t, ClockSystem, cfg.Platform.Clock)
	assert.Equal(t, time.Millisecond, cfg.Platform.ActuationTolerance)
	assert.Equal(t, PriorityConfig{Timer: 3, Network: 2, Sensor: 1}, cfg.Priorities)
	assert.Equal(t, 100*time.Millisecond, cfg.Transport.SendTimeout)
	assert.Equal(t, time.Second, cfg.Status.Interval)
	assert.Equal(t, "ptides", cfg.Status.MQTT.Topic)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 32, sc.PoolCapacity)
	assert.Equal(t, 3, sc.TimerPriority)
	assert.Equal(t, types.FromDuration(time.Millisecond), sc.ActuationTolerance)
}

func TestDefaultIDsAreUnique(t *testing.T) {
	a, err := Parse([]byte(minimal))
	require.NoError(t, err)
	b, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.NotEqual(t, a.Platform.ID, b.Platform.ID)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "ptides.yaml"))
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestGraphErrorsSurfaceFromBuild(t *testing.T) {
	cfg, err := Parse([]byte(`
actors:
  - name: s
    kind: sensor
    next: [md]
  - name: md
    kind: model_delay
    next: [act]
    model_delay: 1ms
    bounded_delay: 5ms
  - name: act
    kind: actuator
`))
	require.NoError(t, err)
	_, err = cfg.BuildGraph()
	assert.ErrorIs(t, err, graph.ErrDelayOrder)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative pool", func(c *Config) { c.Platform.PoolCapacity = -1 }},
		{"bad clock", func(c *Config) { c.Platform.Clock = "sundial" }},
		{"negative priority", func(c *Config) { c.Priorities.Sensor = -1 }},
		{"negative tolerance", func(c *Config) { c.Platform.ActuationTolerance = -time.Millisecond }},
		{"no actors", func(c *Config) { c.Actors = nil }},
		{"stimulus on actuator", func(c *Config) {
			c.Stimulus = []StimulusConfig{{Actor: "act", Interval: time.Millisecond}}
		}},
		{"stimulus without interval", func(c *Config) {
			c.Stimulus = []StimulusConfig{{Actor: "s"}}
		}},
		{"inbound not sensor", func(c *Config) { c.Transport.InboundActor = "md" }},
		{"listen without inbound", func(c *Config) { c.Transport.Listen = ":7000" }},
		{"transmit without peer", func(c *Config) { c.Actors[1].Transmit = true }},
		{"bad qos", func(c *Config) { c.Status.MQTT.QoS = 3 }},
		{"metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimal))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("actors: [\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("actors:\n  - name: s\n    kind: sensor\n    model_delay: soon\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
