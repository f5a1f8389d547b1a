package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(DefaultMaxAttempts, DefaultLockout)
	l.now = clock.Now
	return l, clock
}

func TestLimiterAllowsFreshClient(t *testing.T) {
	l, _ := newTestLimiter()

	allowed, remaining := l.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Zero(t, remaining)
}

func TestLimiterLocksOutAfterMaxAttempts(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		l.RecordFailure("1.2.3.4")
		allowed, _ := l.Check("1.2.3.4")
		require.True(t, allowed, "attempt %d should still be allowed", i+1)
	}

	l.RecordFailure("1.2.3.4")
	allowed, remaining := l.Check("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, DefaultLockout, remaining)

	// Other clients are unaffected.
	allowed, _ = l.Check("5.6.7.8")
	assert.True(t, allowed)
}

func TestLimiterWindowExpiry(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < DefaultMaxAttempts; i++ {
		l.RecordFailure("1.2.3.4")
	}
	allowed, _ := l.Check("1.2.3.4")
	require.False(t, allowed)

	clock.Advance(DefaultLockout + time.Second)

	// Expired window counts as fresh without mutating the record.
	allowed, remaining := l.Check("1.2.3.4")
	assert.True(t, allowed)
	assert.Zero(t, remaining)

	// The reset is committed with the next failure: count restarts at 1.
	l.RecordFailure("1.2.3.4")
	allowed, _ = l.Check("1.2.3.4")
	assert.True(t, allowed)
}

func TestLimiterRemainingTimeShrinks(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < DefaultMaxAttempts; i++ {
		l.RecordFailure("1.2.3.4")
	}

	clock.Advance(5 * time.Minute)
	allowed, remaining := l.Check("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 10*time.Minute, remaining)
}

func TestLimiterClear(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < DefaultMaxAttempts; i++ {
		l.RecordFailure("1.2.3.4")
	}
	l.Clear("1.2.3.4")

	allowed, _ := l.Check("1.2.3.4")
	assert.True(t, allowed)

	// Clearing an absent record is a no-op.
	l.Clear("1.2.3.4")
	allowed, _ = l.Check("1.2.3.4")
	assert.True(t, allowed)
}

func TestLimiterSweep(t *testing.T) {
	l, clock := newTestLimiter()

	l.RecordFailure("stale.client")
	clock.Advance(DefaultLockout + time.Minute)
	l.RecordFailure("fresh.client")

	removed := l.Sweep()
	assert.Equal(t, 1, removed)

	l.mu.Lock()
	_, staleKept := l.attempts["stale.client"]
	_, freshKept := l.attempts["fresh.client"]
	l.mu.Unlock()
	assert.False(t, staleKept)
	assert.True(t, freshKept)
}

func TestLimiterConcurrentFailures(t *testing.T) {
	l, _ := newTestLimiter()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordFailure("1.2.3.4")
		}()
	}
	wg.Wait()

	l.mu.Lock()
	count := l.attempts["1.2.3.4"].count
	l.mu.Unlock()
	assert.Equal(t, workers, count, "concurrent failures must not under-count")
}
