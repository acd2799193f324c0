package containers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[int](3)
	require.True(t, rq.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	require.True(t, rq.IsFull())
	require.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, rq.Enqueue(4))
	front, err := rq.Peek()
	require.NoError(t, err)
	require.Equal(t, 2, front)

	last, ok := rq.At(2)
	require.True(t, ok)
	require.Equal(t, 4, last)
	_, ok = rq.At(3)
	require.False(t, ok)

	rq.Reset()
	require.Equal(t, 0, rq.Len())
	_, err = rq.Dequeue()
	require.ErrorIs(t, err, ErrQueueEmpty)
}
