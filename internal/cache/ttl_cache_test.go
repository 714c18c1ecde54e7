package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTTLCache_GetSetExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTLCacheWithClock[string, int](clock.Now)

	c.Set("a", 1, time.Minute)
	c.Set("forever", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)

	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTLCache_SetIfAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTLCacheWithClock[string, struct{}](clock.Now)

	assert.True(t, c.SetIfAbsent("k", struct{}{}, 5*time.Minute))
	assert.False(t, c.SetIfAbsent("k", struct{}{}, 5*time.Minute))

	clock.Advance(4 * time.Minute)
	assert.False(t, c.SetIfAbsent("k", struct{}{}, 5*time.Minute))

	clock.Advance(time.Minute)
	assert.True(t, c.SetIfAbsent("k", struct{}{}, 5*time.Minute))
}

func TestTTLCache_SetIfAbsentConcurrent(t *testing.T) {
	c := NewTTLCache[string, struct{}]()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent("same", struct{}{}, time.Minute) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestTTLCache_Prune(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTLCacheWithClock[int, int](clock.Now)

	for i := 0; i < 10; i++ {
		c.Set(i, i, time.Duration(i+1)*time.Second)
	}
	assert.Equal(t, 10, c.Len())

	clock.Advance(5 * time.Second)

	assert.Equal(t, 5, c.Prune())
	assert.Equal(t, 5, c.Len())
}

func TestTTLCache_NilSafe(t *testing.T) {
	var c *TTLCache[string, int]

	c.Set("a", 1, time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.SetIfAbsent("a", 1, time.Minute))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Prune())
}
