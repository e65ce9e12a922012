package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// window is a single fixed window for one rule+key combination.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter enforces fixed-window rate limits with in-memory counters.
//
// Each rule+key combination gets an independent window. A background
// goroutine evicts expired entries every minute to bound memory.
type Limiter struct {
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// New creates an in-memory limiter. Call Close to stop the eviction
// goroutine.
func New(logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		logger:  logger,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow counts one request against the rule's window for key and reports
// whether it fits the limit.
func (l *Limiter) Allow(_ context.Context, rule Rule, key string) Result {
	k := rule.Prefix + ":" + key
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[k] = w
	}

	if w.count >= rule.Limit {
		return Result{Allowed: false, Limit: rule.Limit, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - w.count,
		ResetAt:   w.resetAt,
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

// cleanup periodically evicts windows that expired a while ago.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

func (l *Limiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, w := range l.windows {
		if w.resetAt.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}
