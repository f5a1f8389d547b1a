package auth

import (
	"context"
	"sync"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 15 * time.Minute
)

type attemptRecord struct {
	count       int
	windowStart time.Time
}

// Limiter tracks failed login attempts per client identifier over a rolling
// lockout window. It is an injectable component rather than a package
// global so tests can run isolated instances.
type Limiter struct {
	mu          sync.Mutex
	attempts    map[string]*attemptRecord
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

func NewLimiter(maxAttempts int, lockout time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &Limiter{
		attempts:    make(map[string]*attemptRecord),
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Check reports whether clientID may attempt a login and, when locked out,
// how long remains in the window. An expired window counts as fresh here
// without mutating the record: the reset is committed together with the
// next RecordFailure.
func (l *Limiter) Check(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[clientID]
	if !ok {
		return true, 0
	}

	elapsed := l.now().Sub(rec.windowStart)
	if elapsed > l.lockout {
		return true, 0
	}

	if rec.count >= l.maxAttempts {
		return false, l.lockout - elapsed
	}
	return true, 0
}

// RecordFailure counts one failed login for clientID, starting a fresh
// window if none is active.
func (l *Limiter) RecordFailure(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.attempts[clientID]
	if !ok || now.Sub(rec.windowStart) > l.lockout {
		l.attempts[clientID] = &attemptRecord{count: 1, windowStart: now}
		return
	}
	rec.count++
}

// Clear drops the attempt record entirely; called after a successful login.
func (l *Limiter) Clear(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, clientID)
}

// Sweep removes records whose window has expired and returns how many were
// dropped. Without it the attempt map grows unbounded under scanning
// traffic.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, rec := range l.attempts {
		if now.Sub(rec.windowStart) > l.lockout {
			delete(l.attempts, id)
			removed++
		}
	}
	return removed
}

// StartSweeping runs Sweep every interval until ctx is cancelled.
func (l *Limiter) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					logger.Debug.Printf("Swept %d stale login attempt records", n)
				}
			}
		}
	}()
}
