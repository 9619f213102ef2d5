package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps counters in process memory. State is lost on restart
// and is not shared between processes.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[int64]*window
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

func NewMemoryLimiter(cfg Config, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		windows: make(map[int64]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, userID int64) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID]
	if !ok {
		w = &window{start: now}
		l.windows[userID] = w
	}

	elapsed := now.Sub(w.start)
	if elapsed > l.cfg.Period {
		w.count = 0
		w.start = now
		elapsed = 0
	}

	if w.count >= l.cfg.MaxRequests {
		return Decision{
			Allowed:    false,
			Count:      w.count,
			RetryAfter: l.cfg.Period - elapsed,
		}, nil
	}

	w.count++
	return Decision{Allowed: true, Count: w.count}, nil
}

// Prune drops windows that have been idle for longer than one period and
// returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.start) > l.cfg.Period {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
