package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) types.Timestamp { return types.FromDuration(time.Duration(n) * time.Millisecond) }

type fakeEnv struct {
	now       types.Timestamp
	actuated  []types.Event
	scheduled []types.Event
	missed    []types.Event
	sent      []types.Event
	sendErr   error
}

func (f *fakeEnv) Now() types.Timestamp { return f.now }
func (f *fakeEnv) Actuate(_ *Actor, ev types.Event) {
	f.actuated = append(f.actuated, ev)
}
func (f *fakeEnv) ScheduleActuation(_ *Actor, ev types.Event) error {
	f.scheduled = append(f.scheduled, ev)
	return nil
}
func (f *fakeEnv) MissDeadline(_ *Actor, ev types.Event, _ types.Timestamp) {
	f.missed = append(f.missed, ev)
}
func (f *fakeEnv) Transmit(_ *Actor, ev types.Event) error {
	f.sent = append(f.sent, ev)
	return f.sendErr
}

func tagAt(n int) types.Tag { return types.Tag{Timestamp: ms(n)} }

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"sensor":      KindSensor,
		"Clock":       KindClock,
		"computation": KindComputation,
		"model-delay": KindModelDelay,
		"modelDelay":  KindModelDelay,
		"merge":       KindMerge,
		" actuator ":  KindActuator,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("teleporter")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSenseStampsBothTags(t *testing.T) {
	s := New(0, "s", KindSensor)
	s.Next[0] = 1
	s.Next[1] = 2

	r, err := s.Sense(tagAt(4), 11)
	require.NoError(t, err)
	require.Equal(t, 2, r.N)
	for i, ev := range r.Events() {
		assert.Equal(t, tagAt(4), ev.Tag)
		assert.Equal(t, tagAt(4), ev.OrderTag)
		assert.Equal(t, types.Value(11), ev.Value)
		assert.Equal(t, types.ActorID(i+1), ev.To)
	}
}

func TestSensorIsNotDispatchable(t *testing.T) {
	s := New(0, "s", KindSensor)
	_, err := s.Fire(&fakeEnv{}, types.Event{})
	assert.ErrorIs(t, err, ErrNotDispatchable)
}

func TestUnknownKindIsRejected(t *testing.T) {
	a := New(0, "x", KindUnknown)
	_, err := a.Fire(&fakeEnv{}, types.Event{})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestModelDelaySplitsTags(t *testing.T) {
	md := New(1, "md", KindModelDelay)
	md.ModelDelay = ms(7)
	md.BoundedDelay = ms(5)
	md.Next[0] = 2

	r, err := md.Fire(&fakeEnv{}, types.Event{Value: 3, Tag: tagAt(0), OrderTag: tagAt(0), To: 1})
	require.NoError(t, err)
	require.Equal(t, 1, r.N)
	out := r.Out[0]
	assert.Equal(t, tagAt(7), out.Tag)
	assert.Equal(t, tagAt(5), out.OrderTag)
	assert.Equal(t, types.ActorID(1), out.From)
	assert.Equal(t, types.ActorID(2), out.To)
	assert.Equal(t, types.Value(3), out.Value)
}

func TestModelDelayTransmit(t *testing.T) {
	md := New(1, "md", KindModelDelay)
	md.ModelDelay = ms(2)
	md.Transmit = true
	env := &fakeEnv{}

	r, err := md.Fire(env, types.Event{Value: 9, Tag: tagAt(1), OrderTag: tagAt(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, r.N)
	require.Len(t, env.sent, 1)
	assert.Equal(t, tagAt(3), env.sent[0].Tag)

	env.sendErr = errors.New("link down")
	_, err = md.Fire(env, types.Event{Tag: tagAt(1)})
	assert.Error(t, err)
}

func TestComputationAddsOffset(t *testing.T) {
	c := New(1, "c", KindComputation)
	c.Next[0] = 2
	c.Next[1] = 3
	c.ModelDelay = ms(1)

	r, err := c.Fire(&fakeEnv{}, types.Event{Value: 40, Tag: tagAt(2), OrderTag: tagAt(2), Adjusted: true})
	require.NoError(t, err)
	require.Equal(t, 2, r.N)
	for _, ev := range r.Events() {
		assert.Equal(t, types.Value(41), ev.Value)
		assert.Equal(t, tagAt(3), ev.Tag)
		assert.Equal(t, tagAt(2), ev.OrderTag)
		assert.False(t, ev.Adjusted)
	}
}

func TestClockForwardsAndReschedules(t *testing.T) {
	c := New(0, "clk", KindClock)
	c.Period = ms(10)
	c.Next[0] = 1
	c.Next[1] = 2

	first := c.FirstTick(ms(5))
	assert.Equal(t, tagAt(15), first.Tag)
	assert.Equal(t, c.ID, first.To)

	r, err := c.Fire(&fakeEnv{}, first)
	require.NoError(t, err)
	require.Equal(t, MaxOutputs, r.N)
	assert.Equal(t, types.ActorID(1), r.Out[0].To)
	assert.Equal(t, types.ActorID(2), r.Out[1].To)
	assert.Equal(t, tagAt(15), r.Out[0].Tag)
	assert.Equal(t, types.Value(0), r.Out[0].Value)

	next := r.Out[2]
	assert.Equal(t, c.ID, next.To)
	assert.Equal(t, tagAt(25), next.Tag)
	assert.Equal(t, tagAt(25), next.OrderTag)
}

func TestActuatorThreeWays(t *testing.T) {
	act := New(3, "act", KindActuator)
	ev := types.Event{Value: 1, Tag: tagAt(7), OrderTag: tagAt(5)}

	early := &fakeEnv{now: ms(5)}
	_, err := act.Fire(early, ev)
	require.NoError(t, err)
	assert.Len(t, early.scheduled, 1)
	assert.Empty(t, early.actuated)

	onTime := &fakeEnv{now: ms(7)}
	_, err = act.Fire(onTime, ev)
	require.NoError(t, err)
	assert.Len(t, onTime.actuated, 1)

	late := &fakeEnv{now: ms(9)}
	r, err := act.Fire(late, ev)
	require.NoError(t, err)
	assert.Len(t, late.missed, 1)
	assert.Equal(t, 0, r.N)
}

func TestFiringGuard(t *testing.T) {
	a := New(0, "a", KindMerge)
	require.True(t, a.BeginFire())
	assert.False(t, a.BeginFire())
	assert.True(t, a.Firing())
	a.EndFire()
	assert.True(t, a.BeginFire())
}

func TestSuccessors(t *testing.T) {
	a := New(0, "a", KindMerge)
	assert.True(t, a.Terminal())
	assert.Empty(t, a.Successors())
	a.Next[1] = 4
	assert.Equal(t, []types.ActorID{4}, a.Successors())
}
