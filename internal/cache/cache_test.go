package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New[string](8, time.Minute)
	c.Set("a", "1")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestExpiryTreatedAsMiss(t *testing.T) {
	c := New[string](8, 10*time.Millisecond)
	c.Set("a", "1")

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCapacityBound(t *testing.T) {
	c := New[int](3, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4)

	assert.LessOrEqual(t, c.Len(), 3)
	_, ok := c.Get("d")
	assert.True(t, ok, "新写入的条目不应被淘汰")
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New[string](8, time.Minute)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", func() (string, error) {
			calls.Add(1)
			return "value", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New[string](8, time.Minute)
	var calls atomic.Int32

	_, err := c.GetOrCompute("k", func() (string, error) {
		calls.Add(1)
		return "", errors.New("失败")
	})
	require.Error(t, err)

	v, err := c.GetOrCompute("k", func() (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrComputeConcurrent(t *testing.T) {
	c := New[string](8, time.Minute)
	var calls atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute("k", func() (string, error) {
				calls.Add(1)
				time.Sleep(5 * time.Millisecond)
				return "value", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
		}()
	}
	wg.Wait()
	// singleflight 合并并发计算
	assert.Equal(t, int32(1), calls.Load())
}
