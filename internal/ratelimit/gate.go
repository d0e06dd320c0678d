// Package ratelimit gates outbound provider calls.
//
// Callers are admitted in strict arrival order. A caller is released once
// fewer than MaxConcurrent requests are in flight and at least Interval has
// passed since the previous release. The queue is unbounded.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config controls the gate.
type Config struct {
	MaxConcurrent int
	Interval      time.Duration
}

// Gate is a FIFO request gate.
type Gate struct {
	interval time.Duration

	// turn serializes the head of the queue; semaphore.Weighted wakes
	// waiters in FIFO order, which is what gives strict arrival order.
	turn     *semaphore.Weighted
	inFlight *semaphore.Weighted

	mu   sync.Mutex
	last time.Time

	// OnWait, when set, observes how long each caller queued.
	OnWait func(time.Duration)
}

// NewGate builds a gate. MaxConcurrent below 1 is treated as 1.
func NewGate(cfg Config) *Gate {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Gate{
		interval: cfg.Interval,
		turn:     semaphore.NewWeighted(1),
		inFlight: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Token is held for the duration of one request.
type Token struct {
	once sync.Once
	g    *Gate
}

// Release marks the request complete. Safe to call more than once.
func (t *Token) Release() {
	t.once.Do(func() { t.g.inFlight.Release(1) })
}

// Acquire blocks until the caller may dispatch its request.
// The returned token must be released when the request completes.
func (g *Gate) Acquire(ctx context.Context) (*Token, error) {
	start := time.Now()

	if err := g.turn.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.turn.Release(1)

	if err := g.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	g.mu.Lock()
	wait := time.Until(g.last.Add(g.interval))
	g.mu.Unlock()
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.inFlight.Release(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.last = time.Now()
	g.mu.Unlock()

	if g.OnWait != nil {
		g.OnWait(time.Since(start))
	}
	return &Token{g: g}, nil
}

// Do runs fn while holding a token.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tok, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	return fn(ctx)
}
