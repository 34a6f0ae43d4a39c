// Package backoff provides delay strategies for retrying infrastructure
// operations, such as a worker's dequeue loop after a queue or store
// error. Failed job attempts are requeued immediately and never pass
// through these strategies.
//
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the pause before retry number attempt (1-indexed;
// attempt 1 follows the first failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same duration every time.
type Constant time.Duration

// NewConstant is shorthand for Constant(interval).
func NewConstant(interval time.Duration) Constant { return Constant(interval) }

func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Linear waits Initial on the first retry and attempt times that
// thereafter, capped at Max when Max is positive.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential doubles the wait on every retry, starting from Initial
// and capped at Max when Max is positive.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return capAt(doubling(e.Initial, attempt), e.Max)
}

// ExponentialWithJitter picks a uniformly random wait between zero and
// the capped exponential value. Spreading the waits keeps a fleet of
// workers from hammering a recovering backend in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates a full-jitter exponential strategy.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := capAt(doubling(e.Initial, attempt), e.Max)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1)) //nolint:gosec // jitter does not need crypto rand
}

// DefaultStrategy is what worker dequeue loops use when nothing else is
// configured: full-jitter exponential, 100ms initial, 5s ceiling.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 5*time.Second)
}

// doubling returns initial * 2^(attempt-1), saturating instead of
// overflowing for large attempt counts.
func doubling(initial time.Duration, attempt int) time.Duration {
	d := initial
	for range attempt - 1 {
		if d > time.Duration(1)<<62/2 {
			return 1 << 62
		}
		d *= 2
	}
	return d
}

func capAt(d, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
