package service

import (
	"context"
	"sync"
	"time"
)

// callLimiter bounds calls within a rolling window, one limiter per
// model tier. The window anchors at the first call after reset, the
// same convention the quota counters use.
type callLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time // for testing
}

func newCallLimiter(limit int, window time.Duration) *callLimiter {
	return &callLimiter{limit: limit, window: window, now: time.Now}
}

// acquire blocks until a call slot is free or ctx is done. The wait is
// bounded by the window remainder, so a caller never sleeps past the
// point where a slot must open.
func (l *callLimiter) acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.count == 0 || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 1
			l.mu.Unlock()
			return nil
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
