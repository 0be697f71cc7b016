package sequence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain[T any](d *Deque[T]) []T {
	var out []T
	for !d.IsEmpty() {
		v, _ := d.PopFront()
		out = append(out, v)
	}
	return out
}

func TestDequePushPop(t *testing.T) {
	var d Deque[int]
	require.True(t, d.IsEmpty())

	d.PushBack(2)
	d.PushBack(3)
	d.PushFront(1)
	require.Equal(t, 3, d.Len())

	v, ok := d.PopFront()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, []int{2, 3}, drain(&d))

	_, ok = d.PopFront()
	require.False(t, ok)
}

func TestDequeGrowKeepsOrder(t *testing.T) {
	var d Deque[int]
	for i := 0; i < 5; i++ {
		d.PushBack(i)
	}
	d.PushFront(-1)
	for i := 50; i < 70; i++ {
		d.PushBack(i)
	}

	got := drain(&d)
	require.Equal(t, -1, got[0])
	require.Equal(t, []int{0, 1, 2, 3, 4}, got[1:6])
	require.Equal(t, 69, got[len(got)-1])
	require.Len(t, got, 26)
}

func TestDequeWrapsAroundAndClears(t *testing.T) {
	var d Deque[string]
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		d.PushBack(s)
	}
	d.PopFront()
	d.PopFront()
	d.PushBack("g")
	d.PushBack("h")
	d.PushFront("z")
	require.Equal(t, []string{"z", "c", "d", "e", "f", "g", "h"}, drain(&d))

	d.PushBack("x")
	d.Clear()
	require.True(t, d.IsEmpty())
	d.PushFront("y")
	require.Equal(t, []string{"y"}, drain(&d))
}
