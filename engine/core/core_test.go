package core

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestIdentifierPoolReusesSlotsWithNewGeneration(t *testing.T) {
	pool := NewIdentifierPool[string](4)

	a := pool.Acquire("a")
	b := pool.Acquire("b")
	require.NotZero(t, a)
	require.NotEqual(t, a, b)
	require.Equal(t, 2, pool.Len())

	owner, err := pool.Release(a)
	require.NoError(t, err)
	require.Equal(t, "a", owner)

	c := pool.Acquire("c")
	require.NotEqual(t, a, c, "a reused slot must not alias the released id")

	_, ok := pool.Get(a)
	require.False(t, ok)
	got, ok := pool.Get(c)
	require.True(t, ok)
	require.Equal(t, "c", got)

	_, err = pool.Release(a)
	require.Error(t, err)
	_, err = pool.Release(0)
	require.Error(t, err)
	require.Equal(t, 2, pool.Len())
}

func TestIdentifierPoolEach(t *testing.T) {
	pool := NewIdentifierPool[int](0)
	for i := 0; i < 5; i++ {
		pool.Acquire(i)
	}
	sum := 0
	pool.Each(func(id uint64, owner int) { sum += owner })
	require.Equal(t, 10, sum)
}

func TestFatalMarkSurvivesWrapping(t *testing.T) {
	err := MarkFatal(ErrArenaExhausted)
	wrapped := errors.Wrap(err, "allocating vertex buffer")

	require.True(t, IsFatal(wrapped))
	require.True(t, errors.Is(wrapped, ErrArenaExhausted))
	require.False(t, IsFatal(errors.Wrap(ErrRingFull, "staging")))
	require.Nil(t, MarkFatal(nil))
}

func TestEventBusDispatch(t *testing.T) {
	bus := NewEventBus()
	var got []EventContext

	listener := &struct{}{}
	require.True(t, bus.Register(EVENT_CODE_RESIZED, listener, func(sender interface{}, ctx EventContext) bool {
		got = append(got, ctx)
		return true
	}))
	require.False(t, bus.Register(EVENT_CODE_RESIZED, listener, func(interface{}, EventContext) bool { return false }))

	require.True(t, bus.Fire(nil, EventContext{Code: EVENT_CODE_RESIZED, Width: 1024, Height: 768}))
	require.False(t, bus.Fire(nil, EventContext{Code: EVENT_CODE_APPLICATION_QUIT}))
	require.Len(t, got, 1)
	require.Equal(t, uint32(1024), got[0].Width)

	require.True(t, bus.Unregister(EVENT_CODE_RESIZED, listener))
	require.False(t, bus.Fire(nil, EventContext{Code: EVENT_CODE_RESIZED}))
}

func TestFrameMetricsAverages(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 60; i++ {
		m.Update(20 * time.Millisecond)
	}
	require.Equal(t, 20*time.Millisecond, m.FrameTime())
	require.InDelta(t, 50.0, m.FPS(), 0.001)
}

func TestClockUsesSource(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewClockWithSource(func() time.Time { return now })
	c.Update()
	require.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(16 * time.Millisecond)
	c.Update()
	require.Equal(t, 16*time.Millisecond, c.Elapsed())

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	require.Equal(t, 16*time.Millisecond, c.Elapsed())
}

func TestClamp(t *testing.T) {
	require.Equal(t, uint32(3), Clamp[uint32](9, 1, 3))
	require.Equal(t, 1.5, Clamp(1.5, 0.0, 2.0))
	require.Equal(t, -1, Clamp(-5, -1, 1))
}

func TestInputTracksTransitions(t *testing.T) {
	bus := NewEventBus()
	in := NewInput(bus)

	var pressed []KeyCode
	bus.Register(EVENT_CODE_KEY_PRESSED, t, func(_ interface{}, ctx EventContext) bool {
		pressed = append(pressed, ctx.Key)
		return true
	})

	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, true)
	require.Equal(t, []KeyCode{KEY_W}, pressed, "repeat without release fires once")
	require.True(t, in.KeyPressed(KEY_W))

	in.Update()
	require.True(t, in.IsKeyDown(KEY_W))
	require.False(t, in.KeyPressed(KEY_W))

	in.ProcessKey(KEY_W, false)
	require.False(t, in.IsKeyDown(KEY_W))
	require.True(t, in.WasKeyDown(KEY_W))
	require.False(t, in.IsKeyDown(KEYS_MAX_KEYS))

	in.ProcessMouseMove(10, 4)
	in.Update()
	in.ProcessMouseMove(13, 2)
	dx, dy := in.MouseDelta()
	require.Equal(t, int32(3), dx)
	require.Equal(t, int32(-2), dy)

	in.ProcessButton(BUTTON_RIGHT, true)
	require.True(t, in.IsButtonDown(BUTTON_RIGHT))
	require.False(t, in.IsButtonDown(BUTTON_MAX_BUTTONS))
}
