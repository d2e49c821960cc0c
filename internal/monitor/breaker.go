package monitor

import (
	"sync"
	"time"
)

// BreakerState represents the current state of a probe circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // probes pass through
	BreakerOpen                         // tripped, probes skipped
	BreakerHalfOpen                     // one trial probe allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker suppresses probes against a server that keeps failing. It opens
// after failureThreshold consecutive failures, stays open for
// breakDuration, then admits one trial probe at a time; recoveryThreshold
// consecutive successes close it again.
type Breaker struct {
	mu                sync.Mutex
	state             BreakerState
	failureCount      int
	failureThreshold  int
	recoveryThreshold int
	recoveryCount     int
	breakDuration     time.Duration
	openedAt          time.Time
	trialInFlight     bool
	now               func() time.Time // for testing
}

// NewBreaker creates a closed breaker.
func NewBreaker(failureThreshold, recoveryThreshold int, breakDuration time.Duration) *Breaker {
	if recoveryThreshold < 1 {
		recoveryThreshold = 1
	}
	return &Breaker{
		state:             BreakerClosed,
		failureThreshold:  failureThreshold,
		recoveryThreshold: recoveryThreshold,
		breakDuration:     breakDuration,
		now:               time.Now,
	}
}

// Allow reports whether a probe should be attempted. In half-open state
// only one trial probe is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.breakDuration {
			b.state = BreakerHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful probe. In half-open state the breaker
// closes after recoveryThreshold consecutive successes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0

	if b.state == BreakerHalfOpen {
		b.recoveryCount++
		if b.recoveryCount >= b.recoveryThreshold {
			b.state = BreakerClosed
			b.recoveryCount = 0
		}
		b.trialInFlight = false
		return
	}

	b.state = BreakerClosed
	b.trialInFlight = false
}

// RecordFailure notes a failed probe, opening the circuit at the threshold
// or immediately when a half-open trial fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.recoveryCount = 0

	if b.state == BreakerHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.trialInFlight = false
	}
}

// State returns the current breaker state, applying any pending time-based
// transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.breakDuration {
		b.state = BreakerHalfOpen
	}
	return b.state
}
