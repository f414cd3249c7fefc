package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rezkam/jobqueue/internal/domain"
)

// RandFloat returns a uniform value in [0, 1); injected so tests can
// reproduce jittered backoff deterministically instead of seeding a global
// generator.
type RandFloat func() float64

// defaultRandFloat is the production source of jitter, used when a Worker
// isn't configured with a deterministic RandFloat.
func defaultRandFloat() float64 { return rand.Float64() }

// computeBackoff returns the delay before the given attempt number (1-based:
// the count of attempts made so far, including the one that just failed)
// should next become visible, per policy.Strategy.
func computeBackoff(policy domain.RetryPolicy, attempt int, randFloat RandFloat) time.Duration {
	var delay time.Duration
	switch policy.Strategy {
	case domain.BackoffFixed:
		delay = policy.BaseDelay
	case domain.BackoffLinear:
		delay = policy.BaseDelay * time.Duration(attempt)
	case domain.BackoffExponential, domain.BackoffJittered:
		factor := policy.Factor
		if factor <= 0 {
			factor = 2
		}
		exp := float64(policy.BaseDelay) * math.Pow(factor, float64(attempt-1))
		if policy.Cap > 0 && exp > float64(policy.Cap) {
			exp = float64(policy.Cap)
		}
		delay = time.Duration(exp)
		if policy.Strategy == domain.BackoffJittered {
			j := policy.JitterFrac
			if j < 0 {
				j = 0
			}
			if j > 1 {
				j = 1
			}
			scale := (1 - j) + randFloat()*2*j
			delay = time.Duration(float64(delay) * scale)
		}
	default:
		delay = policy.BaseDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
