package pool

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndGet(t *testing.T) {
	p := New(4)
	h, err := p.Allocate(types.Event{Value: 42})
	require.NoError(t, err)

	ev, err := p.Get(h)
	require.NoError(t, err)
	assert.Equal(t, types.Value(42), ev.Value)
	assert.Equal(t, 1, p.InUse())
	assert.Equal(t, 4, p.Cap())
}

func TestExhaustion(t *testing.T) {
	p := New(2)
	_, err := p.Allocate(types.Event{})
	require.NoError(t, err)
	_, err = p.Allocate(types.Event{})
	require.NoError(t, err)

	_, err = p.Allocate(types.Event{})
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 2, p.InUse())
}

func TestDoubleReleaseIsRejected(t *testing.T) {
	p := New(2)
	h, err := p.Allocate(types.Event{})
	require.NoError(t, err)

	require.NoError(t, p.Release(h))
	err = p.Release(h)
	assert.True(t, errors.Is(err, ErrStaleHandle))
	assert.Equal(t, 0, p.InUse())
}

func TestStaleHandleAfterReuse(t *testing.T) {
	p := New(1)
	old, err := p.Allocate(types.Event{Value: 1})
	require.NoError(t, err)
	require.NoError(t, p.Release(old))

	fresh, err := p.Allocate(types.Event{Value: 2})
	require.NoError(t, err)
	assert.Equal(t, old.Index(), fresh.Index())

	_, err = p.Get(old)
	assert.True(t, errors.Is(err, ErrStaleHandle))
	assert.True(t, errors.Is(p.Set(old, types.Event{}), ErrStaleHandle))

	ev, err := p.Get(fresh)
	require.NoError(t, err)
	assert.Equal(t, types.Value(2), ev.Value)
}

func TestCircularScan(t *testing.T) {
	p := New(3)
	a, _ := p.Allocate(types.Event{})
	b, _ := p.Allocate(types.Event{})
	require.NoError(t, p.Release(a))

	// 掃描從上次配置之後開始，不會立刻回到 slot 0
	c, err := p.Allocate(types.Event{})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Index())

	d, err := p.Allocate(types.Event{})
	require.NoError(t, err)
	assert.Equal(t, 0, d.Index())
	assert.NotEqual(t, b.Index(), d.Index())
}

// TestConservation 隨機配置/釋放，使用中數量永遠不超過容量且不會重複配置
func TestConservation(t *testing.T) {
	const capacity = 8
	p := New(capacity)
	rng := rand.New(rand.NewSource(7))
	live := make(map[int]Handle)

	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			h, err := p.Allocate(types.Event{Value: types.Value(i)})
			if len(live) == capacity {
				require.ErrorIs(t, err, ErrExhausted)
				continue
			}
			require.NoError(t, err)
			_, dup := live[h.Index()]
			require.False(t, dup, "slot %d allocated twice", h.Index())
			live[h.Index()] = h
		} else {
			for idx, h := range live {
				require.NoError(t, p.Release(h))
				delete(live, idx)
				break
			}
		}
		require.Equal(t, len(live), p.InUse())
		require.LessOrEqual(t, p.InUse(), capacity)
	}
}
