package client

import (
	"context"
	"sync"
	"time"
)

// Throttle decides when the transport may send the next request.
type Throttle interface {
	// Acquire blocks until a request slot is available or ctx is done.
	Acquire(ctx context.Context) error
	// InWindow returns the number of requests counted in the current window.
	InWindow() int
	// Remaining returns how many more requests fit in the current window.
	Remaining() int
	// Reset forgets every recorded request.
	Reset()
}

// SlidingWindowThrottle admits at most limit requests in any window-long
// interval. QuickBase allows 100 requests per 10 seconds per user token.
type SlidingWindowThrottle struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	sent   []time.Time
	now    func() time.Time
}

// NewSlidingWindowThrottle creates a throttle of limit requests per window.
// Non-positive values fall back to 100 per 10 seconds.
func NewSlidingWindowThrottle(limit int, window time.Duration) *SlidingWindowThrottle {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &SlidingWindowThrottle{
		limit:  limit,
		window: window,
		sent:   make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// prune drops timestamps that left the window. Caller holds mu.
func (t *SlidingWindowThrottle) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.sent) && !t.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.sent = append(t.sent[:0], t.sent[i:]...)
	}
}

func (t *SlidingWindowThrottle) Acquire(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := t.now()
		t.prune(now)
		if len(t.sent) < t.limit {
			t.sent = append(t.sent, now)
			t.mu.Unlock()
			return nil
		}
		wait := t.sent[0].Add(t.window).Sub(now)
		t.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *SlidingWindowThrottle) InWindow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.sent)
}

func (t *SlidingWindowThrottle) Remaining() int {
	return max(0, t.limit-t.InWindow())
}

func (t *SlidingWindowThrottle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = t.sent[:0]
}

// NoOpThrottle never blocks.
type NoOpThrottle struct{}

func NewNoOpThrottle() *NoOpThrottle { return &NoOpThrottle{} }

func (NoOpThrottle) Acquire(ctx context.Context) error { return ctx.Err() }
func (NoOpThrottle) InWindow() int                     { return 0 }
func (NoOpThrottle) Remaining() int                    { return 1000000 }
func (NoOpThrottle) Reset()                            {}
