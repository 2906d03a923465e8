// Package backoff computes when a failed publish job should run again.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Func maps the attempt count just recorded and the current time, both as
// epoch milliseconds where relevant, to the next eligible time.
type Func func(attempts, now int64) int64

// Policy is exponential backoff with optional jitter.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps every delay. Zero means no cap.
	Max time.Duration
	// Multiplier grows the delay per attempt. Values below 1 are treated as 1.
	Multiplier float64
	// Jitter randomizes each delay by up to this fraction in either direction.
	Jitter float64
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default returns 2s doubling up to 10 minutes with 10% jitter.
func Default() Policy {
	return Policy{
		Initial:    2 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// Fixed returns a policy that always waits d.
func Fixed(d time.Duration) Policy {
	return Policy{Initial: d, Max: d, Multiplier: 1}
}

// Delay returns the wait after the given number of failed attempts.
// Attempts below 1 are treated as 1.
func (p Policy) Delay(attempts int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Initial) * math.Pow(mult, float64(attempts-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		j := min(p.Jitter, 1)
		d += d * j * (r()*2 - 1)
		if p.Max > 0 && d > float64(p.Max) {
			d = float64(p.Max)
		}
	}
	switch {
	case d < 0:
		return 0
	case d >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Func adapts the policy to a next_retry_at calculator.
func (p Policy) Func() Func {
	return func(attempts, now int64) int64 {
		return now + p.Delay(attempts).Milliseconds()
	}
}
