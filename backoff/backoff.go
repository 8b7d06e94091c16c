// Package backoff provides pluggable retry delay strategies for task
// execution. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by a fixed increment each attempt.
// Delay = min(Increment * attempt, Cap).
type Linear struct {
	Increment time.Duration
	Cap       time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(increment, cap time.Duration) *Linear {
	return &Linear{Increment: increment, Cap: cap}
}

// Delay returns Increment * attempt, capped at Cap.
func (l *Linear) Delay(attempt int) time.Duration {
	d := time.Duration(attempt) * l.Increment
	if l.Cap > 0 && d > l.Cap {
		return l.Cap
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential multiplies the delay by Factor each attempt.
// Delay = min(Base * Factor^(attempt-1), Cap).
type Exponential struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

// NewExponential creates an exponential backoff strategy with a doubling
// factor.
func NewExponential(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap, Factor: 2}
}

// Delay returns Base * Factor^(attempt-1), capped at Cap.
func (e *Exponential) Delay(attempt int) time.Duration {
	factor := e.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(e.Base) * math.Pow(factor, float64(attempt-1)))
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// ──────────────────────────────────────────────────
// FullJitter
// ──────────────────────────────────────────────────

// FullJitter draws a uniform random delay from [0, exponential base].
// Delay = random value in [0, min(Base * 2^(attempt-1), Cap)].
// This spreads out retries when many tasks fail against the same
// upstream (a rate-limited literature API, a saturated model endpoint).
type FullJitter struct {
	Base time.Duration
	Cap  time.Duration
}

// NewFullJitter creates an exponential backoff with full jitter.
func NewFullJitter(base, cap time.Duration) *FullJitter {
	return &FullJitter{Base: base, Cap: cap}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Cap)].
func (f *FullJitter) Delay(attempt int) time.Duration {
	ceiling := float64(f.Base) * math.Pow(2, float64(attempt-1))
	if f.Cap > 0 && ceiling > float64(f.Cap) {
		ceiling = float64(f.Cap)
	}
	return time.Duration(rand.Float64() * ceiling) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the executor:
// FullJitter with 1s base and 1m cap.
func DefaultStrategy() Strategy {
	return NewFullJitter(1*time.Second, 1*time.Minute)
}
