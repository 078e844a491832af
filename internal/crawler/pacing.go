package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// FixedDelay keeps the same pause between dispatches.
type FixedDelay time.Duration

// Delay returns d.
func (d FixedDelay) Delay() time.Duration { return time.Duration(d) }

// RandomDelay draws the pause uniformly from [Min, Max).
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

// Delay returns a random duration in [Min, Max), or Min when the range is empty.
func (d RandomDelay) Delay() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + rand.N(d.Max-d.Min)
}

// NewPacer picks a fixed or random pacer for the range.
func NewPacer(minDelay, maxDelay time.Duration) job.Pacer {
	if maxDelay > minDelay {
		return RandomDelay{Min: minDelay, Max: maxDelay}
	}
	return FixedDelay(minDelay)
}

// pause sleeps for delay unless ctx ends first.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// remainingDelay is what is left of p's delay since the previous dispatch.
func remainingDelay(p job.Pacer, last, now time.Time) time.Duration {
	if p == nil || last.IsZero() {
		return 0
	}
	return p.Delay() - now.Sub(last)
}
