// Package retry provides the exponential backoff policy and the
// bounded-attempts combinator shared by the fetch, generate, and send
// stages of the daily analysis pipeline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// Policy describes one stage's retry budget. Each stage (fetch, generate,
// send) carries its own policy since the providers rate-limit differently.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// Sanitize clamps the policy to usable values.
func (p Policy) Sanitize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay computes the backoff before attempt n+1 (attempt is 0-indexed).
// Exponential growth capped at MaxDelay, with ±25% jitter when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.Sanitize()
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter {
		spread := d * 0.25
		d += (rand.Float64()*2 - 1) * spread
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Do invokes op up to MaxAttempts times, sleeping the policy delay between
// attempts. Only transient provider errors are retried; any other error
// returns immediately. A TransientProviderError carrying RetryAfter
// overrides the computed delay for that attempt. Context cancellation
// aborts the wait and returns the context error.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	policy = policy.Sanitize()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !model.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		var te *model.TransientProviderError
		if errors.As(err, &te) && te.RetryAfter > 0 {
			delay = te.RetryAfter
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", policy.MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
