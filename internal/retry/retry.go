// Package retry executes operations against rate-limited remote backends.
// Transient failures are retried with decorrelated-jitter backoff; an
// explicit server wait hint (Retry-After) is honored verbatim, capped.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Temporary is implemented by errors that may succeed on retry.
type Temporary interface {
	error
	Temporary() bool
}

// AfterHinter is implemented by errors carrying a server-provided wait hint.
type AfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// Throttled is implemented by errors caused by quota rate limiting. Quota
// windows reset on the order of a minute, so these get the larger backoff
// profile.
type Throttled interface {
	Throttled() bool
}

// Policy bounds and shapes the retries of a single operation.
type Policy struct {
	// Attempts is the total number of invocations, first call included.
	Attempts int

	// Base and Cap shape backoff for generic transient failures.
	Base time.Duration
	Cap  time.Duration

	// ThrottleBase and ThrottleCap shape backoff for quota rate limits.
	ThrottleBase time.Duration
	ThrottleCap  time.Duration

	// MaxHint caps a server-provided Retry-After before sleeping on it.
	MaxHint time.Duration

	// Retryable overrides the default classification (the Temporary
	// interface) when set.
	Retryable func(error) bool

	// Sleep and Rand are injection points for tests. Nil means real
	// sleeping and math/rand.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// StorePolicy is the profile for the metered tabular backend: more attempts
// and the stronger 429 profile, since per-minute quotas recover slowly.
func StorePolicy() Policy {
	return Policy{
		Attempts:     8,
		Base:         1 * time.Second,
		Cap:          30 * time.Second,
		ThrottleBase: 4 * time.Second,
		ThrottleCap:  90 * time.Second,
		MaxHint:      90 * time.Second,
	}
}

// FeedPolicy is the profile for the event feed and metadata endpoints.
func FeedPolicy() Policy {
	return Policy{
		Attempts:     5,
		Base:         1 * time.Second,
		Cap:          30 * time.Second,
		ThrottleBase: 1 * time.Second,
		ThrottleCap:  60 * time.Second,
		MaxHint:      60 * time.Second,
	}
}

// Do invokes op until it succeeds, a non-retryable error occurs, attempts
// are exhausted, or ctx is done. The last error is returned unwrapped so
// callers can inspect it with errors.As.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var prev time.Duration

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= attempts || !p.retryable(lastErr) {
			return lastErr
		}

		d, hinted := hint(lastErr)
		if hinted {
			if d > p.maxHint() {
				d = p.maxHint()
			}
			if d > prev {
				prev = d
			}
		} else {
			base, ceil := p.Base, p.Cap
			if throttled(lastErr) {
				base, ceil = p.ThrottleBase, p.ThrottleCap
			}
			d = p.nextDelay(prev, base, ceil)
			prev = d
		}

		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}
	return lastErr
}

// nextDelay implements decorrelated jitter: the first retry sleeps base,
// later retries sleep uniform(base, prev*3) capped.
func (p Policy) nextDelay(prev, base, ceil time.Duration) time.Duration {
	if prev <= 0 {
		if base > ceil {
			return ceil
		}
		return base
	}
	hi := 3 * prev
	if hi <= base {
		return base
	}
	d := base + time.Duration(p.rand()*float64(hi-base))
	if d > ceil {
		return ceil
	}
	return d
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	var t Temporary
	return errors.As(err, &t) && t.Temporary()
}

func (p Policy) maxHint() time.Duration {
	if p.MaxHint > 0 {
		return p.MaxHint
	}
	return 90 * time.Second
}

func (p Policy) rand() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func hint(err error) (time.Duration, bool) {
	var h AfterHinter
	if errors.As(err, &h) {
		if d, ok := h.RetryAfterHint(); ok && d > 0 {
			return d, true
		}
	}
	return 0, false
}

func throttled(err error) bool {
	var t Throttled
	return errors.As(err, &t) && t.Throttled()
}
