// Package retry implements RetryPolicy: a tagged fixed/exponential
// backoff policy with jitter, plus the validation invariants from
// spec.md §3 and delay computation for supervisor attempt scheduling.
package retry

import (
	"fmt"
	"math/rand"
	"time"
)

// Backoff selects which delay curve a Policy uses.
type Backoff int

const (
	// Fixed repeats the same delay between every attempt.
	Fixed Backoff = iota
	// Exponential doubles the delay after every attempt, up to MaxDelay.
	Exponential
)

// Policy is the validated, immutable retry configuration for a test.
// Zero value is Fixed{Count: 0}, matching nextest's "no retries" default.
type Policy struct {
	Backoff  Backoff
	Count    uint32
	Delay    time.Duration
	Jitter   bool
	MaxDelay time.Duration // only meaningful for Exponential; 0 = unbounded
}

// NewFixed builds a validated Fixed policy.
func NewFixed(count uint32, delay time.Duration, jitter bool) (Policy, error) {
	p := Policy{Backoff: Fixed, Count: count, Delay: delay, Jitter: jitter}
	return p, p.Validate()
}

// NewExponential builds a validated Exponential policy.
func NewExponential(count uint32, delay time.Duration, jitter bool, maxDelay time.Duration) (Policy, error) {
	p := Policy{Backoff: Exponential, Count: count, Delay: delay, Jitter: jitter, MaxDelay: maxDelay}
	return p, p.Validate()
}

// Validate checks the invariants from spec.md §3: for Fixed, delay=0
// implies jitter=false; for Exponential, count>=1, delay>0, and
// max_delay (if set) >= delay.
func (p Policy) Validate() error {
	switch p.Backoff {
	case Fixed:
		if p.Delay == 0 && p.Jitter {
			return fmt.Errorf("retry: fixed backoff with zero delay cannot have jitter")
		}
		return nil
	case Exponential:
		if p.Count == 0 {
			return fmt.Errorf("retry: exponential backoff requires count >= 1")
		}
		if p.Delay <= 0 {
			return fmt.Errorf("retry: exponential backoff requires delay > 0")
		}
		if p.MaxDelay != 0 && p.MaxDelay < p.Delay {
			return fmt.Errorf("retry: exponential backoff max_delay (%s) must be >= delay (%s)", p.MaxDelay, p.Delay)
		}
		return nil
	default:
		return fmt.Errorf("retry: unknown backoff kind %d", p.Backoff)
	}
}

// TotalAttempts returns 1 + Count, per spec.md's RetryData definition.
func (p Policy) TotalAttempts() int { return 1 + int(p.Count) }

// DelayFor returns the delay to apply before the given attempt number
// (attempt is 1-based; DelayFor(1) is always zero since there's no delay
// before the first attempt). rnd may be nil, in which case jitter is
// computed with the package-level source.
func (p Policy) DelayFor(attempt int, rnd *rand.Rand) time.Duration {
	if attempt <= 1 {
		return 0
	}
	priorRetries := attempt - 1 // number of retries already consumed before this attempt
	var base time.Duration
	switch p.Backoff {
	case Fixed:
		base = p.Delay
	case Exponential:
		base = p.Delay
		for i := 1; i < priorRetries; i++ {
			base *= 2
			if p.MaxDelay != 0 && base > p.MaxDelay {
				base = p.MaxDelay
				break
			}
		}
		if p.MaxDelay != 0 && base > p.MaxDelay {
			base = p.MaxDelay
		}
	}
	if !p.Jitter || base <= 0 {
		return base
	}
	return applyJitter(base, rnd)
}

// applyJitter returns a uniformly random duration in [base/2, base*3/2),
// the classic "full-ish" jitter used to avoid thundering-herd retries.
func applyJitter(base time.Duration, rnd *rand.Rand) time.Duration {
	half := base / 2
	var f float64
	if rnd != nil {
		f = rnd.Float64()
	} else {
		f = rand.Float64()
	}
	return half + time.Duration(f*float64(base))
}
