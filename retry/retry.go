// Package retry provides the backoff policy applied around every outbound
// API call: exponential delays capped at a maximum, with jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps any single backoff delay.
	DefaultMaxDelay = 30 * time.Second
)

// Jitter randomizes a computed delay d. It must return a value in [0, d].
type Jitter func(d time.Duration) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many times and how long to wait between attempts.
// Zero delays fall back to the package defaults; MaxRetries of zero
// disables retrying.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Jitter defaults to HalfJitter. Use NoJitter for deterministic delays.
	Jitter Jitter

	// Sleep defaults to SleepContext.
	Sleep SleepFunc
}

// DefaultPolicy returns the policy used when a client sets nothing.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Attempts is the total number of tries, the first included.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the delay before retry number attempt (1-based). The raw
// delay BaseDelay * 2^(attempt-1) is jittered first and capped at MaxDelay
// afterwards, so with HalfJitter the windows of successive retries never
// overlap and the returned delays are non-decreasing.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	base, ceiling := p.delays()
	delay := base
	for i := 1; i < attempt && delay/2 < ceiling; i++ {
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = HalfJitter
	}
	return min(jitter(delay), ceiling)
}

// Clamp bounds a server supplied delay (such as Retry-After) to MaxDelay.
func (p Policy) Clamp(d time.Duration) time.Duration {
	_, ceiling := p.delays()
	if d < 0 {
		return 0
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Wait sleeps for d using the policy's sleeper.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, d)
}

func (p Policy) delays() (base, ceiling time.Duration) {
	base, ceiling = p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if ceiling < base {
		ceiling = base
	}
	return base, ceiling
}

// HalfJitter returns a delay in [d/2, d].
func HalfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

// FullJitter returns a delay in [0, d].
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// NoJitter returns d unchanged.
func NoJitter(d time.Duration) time.Duration {
	return d
}

// SleepContext waits for the specified duration or until the context is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
