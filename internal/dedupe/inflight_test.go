// ABOUTME: Tests for the in-flight id set
// ABOUTME: Validates acquire/release, TTL expiry, eviction and concurrent acquisition

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestInFlight(ttl time.Duration, maxSize int) (*InFlight, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := New(ttl, maxSize)
	f.now = clock.now
	return f, clock
}

func TestInFlight_AcquireRelease(t *testing.T) {
	f, _ := newTestInFlight(time.Minute, 10)
	defer f.Close()

	assert.True(t, f.TryAcquire("action-1"))
	assert.False(t, f.TryAcquire("action-1"), "second caller is turned away")
	assert.True(t, f.Held("action-1"))
	assert.True(t, f.TryAcquire("action-2"), "other ids are independent")

	f.Release("action-1")
	assert.False(t, f.Held("action-1"))
	assert.True(t, f.TryAcquire("action-1"))

	f.Release("never-held")
	assert.Equal(t, 2, f.Len())
}

func TestInFlight_Expiry(t *testing.T) {
	f, clock := newTestInFlight(time.Minute, 10)
	defer f.Close()

	assert.True(t, f.TryAcquire("stuck"))
	clock.advance(59 * time.Second)
	assert.False(t, f.TryAcquire("stuck"))

	clock.advance(2 * time.Second)
	assert.False(t, f.Held("stuck"))
	assert.True(t, f.TryAcquire("stuck"), "an expired holder no longer blocks")
}

func TestInFlight_ExpireSweep(t *testing.T) {
	f, clock := newTestInFlight(time.Minute, 10)
	defer f.Close()

	f.TryAcquire("old-1")
	f.TryAcquire("old-2")
	clock.advance(30 * time.Second)
	f.TryAcquire("new")
	clock.advance(45 * time.Second)

	f.expire()
	assert.Equal(t, 1, f.Len())
	assert.True(t, f.Held("new"))
}

func TestInFlight_EvictsOldestWhenFull(t *testing.T) {
	f, clock := newTestInFlight(time.Hour, 2)
	defer f.Close()

	f.TryAcquire("a")
	clock.advance(time.Second)
	f.TryAcquire("b")
	clock.advance(time.Second)
	f.TryAcquire("c")

	assert.Equal(t, 2, f.Len())
	assert.False(t, f.Held("a"))
	assert.True(t, f.Held("b"))
	assert.True(t, f.Held("c"))
}

func TestInFlight_ConcurrentSingleWinner(t *testing.T) {
	f := New(time.Minute, 100)
	defer f.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryAcquire("same-id") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestInFlight_CloseTwice(t *testing.T) {
	f := New(time.Minute, 0)
	f.Close()
	assert.NotPanics(t, f.Close)
}
