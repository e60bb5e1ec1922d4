// Package shaper composes request-rate and token-rate buckets into a single
// admission gate for outbound LLM calls.
package shaper

import (
	"context"
	"time"

	"ratemediator/pkg/bucket"
)

// Limits describes the per-minute ceilings a Shaper enforces.
type Limits struct {
	RequestsPerMinute float64
	TokensPerMinute   float64
}

// OnLimitHit is invoked whenever Acquire has to wait for either bucket,
// before the wait begins. Used for metrics/logging; must not block.
type OnLimitHit func(waitingOn string, wait time.Duration)

// Shaper gates calls on both a requests-per-minute and a tokens-per-minute
// budget. Acquire blocks (respecting ctx) until both allow the request.
type Shaper struct {
	requests   *bucket.Bucket
	tokens     *bucket.Bucket
	onLimitHit OnLimitHit
}

// New builds a Shaper from per-minute limits, converting to per-second
// refill rates for the underlying buckets.
func New(limits Limits, onLimitHit OnLimitHit) *Shaper {
	return &Shaper{
		requests:   bucket.New(limits.RequestsPerMinute, limits.RequestsPerMinute/60),
		tokens:     bucket.New(limits.TokensPerMinute, limits.TokensPerMinute/60),
		onLimitHit: onLimitHit,
	}
}

// Acquire blocks until one request slot and estTokens token-budget are both
// available, consuming them atomically from the caller's perspective (the
// two buckets are drained independently, but Acquire does not return until
// both have been satisfied). Returns ctx.Err() if the context is canceled
// or its deadline elapses while waiting.
func (s *Shaper) Acquire(ctx context.Context, estTokens float64) error {
	for {
		if s.requests.TryConsume(1) {
			break
		}
		wait := s.requests.WaitDuration(1)
		if s.onLimitHit != nil {
			s.onLimitHit("requests", wait)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	for {
		if s.tokens.TryConsume(estTokens) {
			return nil
		}
		wait := s.tokens.WaitDuration(estTokens)
		if s.onLimitHit != nil {
			s.onLimitHit("tokens", wait)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
