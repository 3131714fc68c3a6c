// Package ratelimit provides admission control over launcher keys.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Strategy decides what happens when a window is exhausted.
type Strategy string

const (
	// StrategyDrop rejects the request immediately.
	StrategyDrop Strategy = "drop"
	// StrategyWait sleeps until the next window boundary.
	StrategyWait Strategy = "wait"
)

// Limiter brackets expensive pipeline work: Require admits, Release
// returns the occupancy. Release must be called exactly once for every
// admitted Require.
type Limiter interface {
	// Require requests admission for the key. It returns false when the
	// request is rejected (drop strategy) and an error only when the
	// context ends while waiting.
	Require(ctx context.Context, key string) (bool, error)
	// Release returns the occupancy taken by an admitted Require. For
	// window-based algorithms this is a no-op kept for symmetry with
	// occupancy-based ones.
	Release(key string)
}

type bucket struct {
	window int64
	count  int
}

// FixedWindow is a per-key fixed-window counter: requests in the bucket
// [now - now%W, now - now%W + W) share one counter limited to N.
type FixedWindow struct {
	window   time.Duration
	limit    int
	strategy Strategy

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// NewFixedWindow builds a limiter with the given window length, request
// limit per window, and exhaustion strategy.
func NewFixedWindow(window time.Duration, limit int, strategy Strategy) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 60
	}
	if strategy != StrategyWait {
		strategy = StrategyDrop
	}
	return &FixedWindow{
		window:   window,
		limit:    limit,
		strategy: strategy,
		buckets:  map[string]*bucket{},
		now:      time.Now,
	}
}

// Require implements Limiter.
func (f *FixedWindow) Require(ctx context.Context, key string) (bool, error) {
	for {
		now := f.now()
		windowStart := now.Unix() - now.Unix()%int64(f.window/time.Second)

		f.mu.Lock()
		b, ok := f.buckets[key]
		if !ok || b.window != windowStart {
			b = &bucket{window: windowStart}
			f.buckets[key] = b
		}
		if b.count < f.limit {
			b.count++
			f.mu.Unlock()
			return true, nil
		}
		f.mu.Unlock()

		if f.strategy == StrategyDrop {
			return false, nil
		}
		boundary := time.Unix(windowStart+int64(f.window/time.Second), 0)
		wait := boundary.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

// Release implements Limiter. Fixed windows hold no occupancy, so this
// only exists to keep the require/release bracket intact for algorithms
// that do.
func (f *FixedWindow) Release(string) {}
