package announcequeue

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func popAll(q *Queue[string]) []string {
	var items []string
	for {
		it, ok := q.PopFront()
		if !ok {
			return items
		}
		items = append(items, it)
	}
}

func TestPushBackPopFront(t *testing.T) {
	q := New[string](new(sync.Mutex))
	assert.Equal(t, 2, q.PushBack("a", "b"))
	assert.Equal(t, 3, q.PushBack("c"))
	assert.Equal(t, []string{"a", "b", "c"}, popAll(q))
	assert.Zero(t, q.Len())
	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestPushFrontJumpsQueue(t *testing.T) {
	q := New[string](new(sync.Mutex))
	q.PushBack("y1", "y2")
	q.PushFront("x1", "x2")
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, []string{"x1", "x2", "y1", "y2"}, popAll(q))
}

func TestGrowWrapped(t *testing.T) {
	q := New[int](new(sync.Mutex))
	var expected []int
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			q.PushFront(i)
			expected = append([]int{i}, expected...)
		} else {
			q.PushBack(i)
			expected = append(expected, i)
		}
	}
	require.Equal(t, 100, q.Len())
	for _, e := range expected {
		v, ok := q.PopFront()
		require.True(t, ok)
		require.Equal(t, e, v)
	}
}

func TestStagingIsSeparate(t *testing.T) {
	q := New[string](new(sync.Mutex))
	q.Stage("a", "b", "c")
	assert.Equal(t, 3, q.StagedLen())
	assert.Zero(t, q.Len())
}

func TestDrainStagedLIFO(t *testing.T) {
	q := New[string](new(sync.Mutex))
	q.Stage("a", "b")
	q.Stage("c")
	assert.Equal(t, []string{"c", "b", "a"}, q.DrainStaged())
	assert.Zero(t, q.StagedLen())
	assert.Nil(t, q.DrainStaged())
}

func TestConcurrentUse(t *testing.T) {
	q := New[string](new(sync.Mutex))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := strconv.Itoa(i*100 + j)
				if j%2 == 0 {
					q.PushFront(s)
				} else {
					q.PushBack(s)
				}
				q.Stage(s)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
	assert.Len(t, q.DrainStaged(), 1000)
	seen := make(map[string]struct{})
	for _, s := range popAll(q) {
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
