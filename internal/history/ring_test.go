package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())

	newest, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, 5, newest)
}

func TestRing_Last(t *testing.T) {
	r := New[int](10)
	for i := 0; i < 4; i++ {
		r.Push(i)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{2, []int{2, 3}},
		{0, []int{}},
		{10, []int{0, 1, 2, 3}},
		{-1, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Last(tt.n), "Last(%d)", tt.n)
	}
}

func TestRing_SnapshotIsCopy(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	snap := r.Snapshot()
	snap[0] = 99

	assert.Equal(t, []int{1}, r.Snapshot())
}

func TestRing_EmptyNewest(t *testing.T) {
	r := New[string](1)
	_, ok := r.Newest()
	assert.False(t, ok)
}

func TestRing_ZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}

func TestRing_ConcurrentPush(t *testing.T) {
	r := New[int](100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Push(i)
				_ = r.Last(10)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Len())
}
