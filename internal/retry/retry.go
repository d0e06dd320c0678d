// Package retry wraps provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"TickerVault/internal/model"
)

// Gate admits one attempt at a time. *ratelimit.Gate satisfies it.
type Gate interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Policy retries transient and rate-limited provider failures.
// After failed attempt n (counting from 1) the wait is Base*2^n plus up to
// Jitter: about 2s before the second attempt and 4s before the third.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      time.Duration

	gate    Gate
	log     zerolog.Logger
	OnRetry func(attempt int, err error, delay time.Duration)
}

// NewPolicy returns a policy with a one second base and one second of jitter.
func NewPolicy(maxAttempts int, gate Gate, log zerolog.Logger) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		Base:        time.Second,
		Jitter:      time.Second,
		gate:        gate,
		log:         log.With().Str("component", "retry").Logger(),
	}
}

// exponential implements backoff.BackOff as 2^n * base + rand(jitter),
// where n is the number of the attempt that just failed.
type exponential struct {
	base, jitter time.Duration
	n            int
}

func (e *exponential) NextBackOff() time.Duration {
	e.n++
	d := e.base << uint(e.n)
	if e.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(e.jitter)))
	}
	return d
}

func (e *exponential) Reset() { e.n = 0 }

// Do runs fn until it succeeds, fails terminally, or MaxAttempts is reached.
// Every attempt goes through the gate on its own.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
		lastErr error
	)

	operation := func() error {
		attempt++
		var v T
		call := func(ctx context.Context) error {
			var err error
			v, err = fn(ctx)
			return err
		}
		var err error
		if p.gate != nil {
			err = p.gate.Do(ctx, call)
		} else {
			err = call(ctx)
		}
		if err == nil {
			result = v
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !model.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&exponential{base: p.Base, jitter: p.Jitter}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, d time.Duration) {
		p.log.Warn().Err(err).Str("op", op).
			Int("attempt", attempt).Int("max_attempts", p.MaxAttempts).
			Dur("retry_in", d).Msg("attempt failed, retrying")
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, d)
		}
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if model.IsRetryable(err) && attempt >= p.MaxAttempts {
			return result, fmt.Errorf("%s: all %d attempts exhausted: %w", op, p.MaxAttempts, lastErr)
		}
		return result, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
