package notify

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller exceeds the test-send window
var ErrRateLimited = errors.New("too many test notifications, try again later")

// Test sends default to 3 per minute per caller
const (
	DefaultTestLimit  = 3
	DefaultTestWindow = time.Minute
)

type window struct {
	start time.Time
	count int
}

// TestLimiter is a fixed-window counter keyed by caller. It guards the
// user-triggered test send only.
type TestLimiter struct {
	limit  int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewTestLimiter allows limit calls per period per caller
func NewTestLimiter(limit int, period time.Duration) *TestLimiter {
	return &TestLimiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

// Allow counts one call from caller at now and reports whether it fits
func (l *TestLimiter) Allow(caller string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(now)

	w, ok := l.windows[caller]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[caller] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

func (l *TestLimiter) evict(now time.Time) {
	for caller, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, caller)
		}
	}
}
