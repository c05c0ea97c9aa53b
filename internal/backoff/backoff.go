// Package backoff computes reconnect delays using jittered exponential backoff.
//
// The calculator is pure apart from its injected randomness source, so tests
// can drive it with a fixed seed or a zero jitter factor.
package backoff

import (
	"fmt"
	"math/rand"
	"time"
)

// Policy defines how delays grow between consecutive failures.
type Policy struct {
	// Initial is the delay before the first retry and the lower clamp bound.
	Initial time.Duration

	// Max is the upper clamp bound for any computed delay.
	Max time.Duration

	// Multiplier scales the previous delay on each failure. Must be > 1.
	Multiplier float64

	// Jitter is the fraction of the scaled delay used as the random
	// perturbation range. Must be in [0, 1].
	Jitter float64
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial delay must be > 0, got %v", p.Initial)
	}
	if p.Initial > p.Max {
		return fmt.Errorf("initial delay (%v) cannot exceed max delay (%v)", p.Initial, p.Max)
	}
	if p.Multiplier <= 1.0 {
		return fmt.Errorf("multiplier must be > 1.0, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be in [0, 1], got %v", p.Jitter)
	}
	return nil
}

// Calculator produces the next retry delay from the previous one.
type Calculator struct {
	policy Policy
	rnd    *rand.Rand
}

// New creates a calculator with the given randomness source. A nil source
// falls back to a time-seeded one.
func New(policy Policy, src rand.Source) (*Calculator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Calculator{
		policy: policy,
		rnd:    rand.New(src),
	}, nil
}

// Policy returns the calculator's policy.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// Next returns the delay to wait after a failure, given the delay used for
// the previous attempt. The result is always within [Initial, Max].
func (c *Calculator) Next(prev time.Duration) time.Duration {
	base := float64(prev) * c.policy.Multiplier

	if c.policy.Jitter > 0 {
		jitterRange := base * c.policy.Jitter
		base += (c.rnd.Float64()*2 - 1) * jitterRange
	}

	next := time.Duration(base)
	if next < c.policy.Initial {
		next = c.policy.Initial
	}
	if next > c.policy.Max {
		next = c.policy.Max
	}
	return next
}
