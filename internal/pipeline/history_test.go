package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundedQueueEvictsOldest(t *testing.T) {
	q := newBoundedQueue[int](3)
	for i := 1; i <= 5; i++ {
		q.Push(i)
		require.LessOrEqual(t, q.Len(), 3)
	}
	require.Equal(t, []int{3, 4, 5}, q.Values())
	require.Equal(t, 5, q.FromEnd(1))
	require.Equal(t, 3, q.FromEnd(3))
	require.Equal(t, []int{4, 5}, q.Tail(2))
	require.Equal(t, []int{3, 4, 5}, q.Tail(10))

	q.Clear()
	require.Equal(t, 0, q.Len())
	q.Push(9)
	require.Equal(t, []int{9}, q.Values())
}

func TestBoundedQueueValuesIsCopy(t *testing.T) {
	q := newBoundedQueue[float32](2)
	q.Push(1)
	v := q.Values()
	v[0] = 99
	require.Equal(t, float32(1), q.FromEnd(1))
}
