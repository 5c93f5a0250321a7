// Package retry implements the bounded exponential-backoff policy used for
// the nonce fetch and submission retry paths (spec §4.3, §4.5, §7). It
// mirrors the constants used by the real astria-auctioneer's `tryhard`
// configuration (100ms base delay, 2s cap) rather than inventing new ones.
package retry

import (
	"context"
	"time"
)

// Policy is a bounded exponential backoff: base delay doubles each attempt
// up to MaxDelay, and no more than MaxAttempts are made in total.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Default matches the real Auctioneer's retry configuration for both the
// pending-nonce fetch and the submission path.
var Default = Policy{
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	MaxAttempts: 1024,
}

// OnRetry is invoked after each failed attempt (not the last) with the
// attempt number (1-indexed) and the delay before the next try.
type OnRetry func(attempt int, delay time.Duration, err error)

// Do runs fn up to p.MaxAttempts times, sleeping an exponentially growing
// delay between attempts, until fn succeeds, ctx is cancelled, or attempts
// are exhausted. onRetry may be nil.
func (p Policy) Do(ctx context.Context, onRetry OnRetry, fn func(ctx context.Context) error) error {
	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
