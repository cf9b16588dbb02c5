package backoff

import (
	"math/rand"
	"time"
)

// DefaultBaseDelay is the floor delay returned after a productive cycle
// and the lower bound of every jittered delay.
const DefaultBaseDelay = 100 * time.Millisecond

// ExponentialPolicy computes the wait between poll cycles. Productive
// cycles reset the failure streak and get the base delay back; each
// non-productive cycle doubles the window, capped at maxDelay, and the
// returned delay is drawn uniformly from [base, window] so that multiple
// listener instances do not wake in lockstep.
//
// The policy is owned by a single poll loop and is not safe for
// concurrent use.
type ExponentialPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	streak    int
}

// NewExponentialPolicy creates a policy with the given floor and ceiling.
// A non-positive baseDelay falls back to DefaultBaseDelay; a maxDelay
// below the base is raised to the base.
func NewExponentialPolicy(baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialPolicy{baseDelay: baseDelay, maxDelay: maxDelay}
}

// GetNextDelay returns the wait before the next cycle. success means the
// previous cycle produced work: the streak resets and the base delay is
// returned so the loop polls again almost immediately.
func (p *ExponentialPolicy) GetNextDelay(success bool) time.Duration {
	if success {
		p.streak = 0
		return p.baseDelay
	}
	p.streak++

	window := p.baseDelay
	for i := 0; i < p.streak && window < p.maxDelay; i++ {
		window *= 2
	}
	if window > p.maxDelay {
		window = p.maxDelay
	}

	// Full jitter: uniform in [0, window], floored at the base delay.
	delay := time.Duration(rand.Int63n(int64(window) + 1))
	if delay < p.baseDelay {
		delay = p.baseDelay
	}
	return delay
}

// Streak reports the current count of consecutive non-productive cycles.
func (p *ExponentialPolicy) Streak() int {
	return p.streak
}
