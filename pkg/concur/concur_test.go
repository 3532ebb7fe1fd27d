package concur

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	tasks := []int{5, 4, 3, 2, 1}
	out, err := Map(context.Background(), 3, tasks, func(_ context.Context, _ int, n int) (string, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return strconv.Itoa(n), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, out)
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int32
	var mu sync.Mutex

	tasks := make([]int, 20)
	_, err := Map(context.Background(), 2, tasks, func(_ context.Context, _ int, _ int) (int, error) {
		n := cur.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		cur.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMap_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	tasks := []int{0, 1, 2, 3}
	_, err := Map(context.Background(), 2, tasks, func(_ context.Context, _ int, n int) (int, error) {
		if n == 1 {
			return 0, boom
		}
		return n, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEach(t *testing.T) {
	var sum atomic.Int64
	err := ForEach(context.Background(), 4, []int{1, 2, 3, 4}, func(_ context.Context, _ int, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.Load())
}
