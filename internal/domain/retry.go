package domain

import "time"

// BackoffStrategy names a retry delay curve.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffJittered    BackoffStrategy = "jittered"
)

// RetryPolicy parameterizes how a worker computes the next visible-at
// timestamp after a retriable failure. MaxAttempts is carried with the
// policy, but the worker's exhaustion check reads Job.MaxAttempts.
type RetryPolicy struct {
	Strategy    BackoffStrategy
	BaseDelay   time.Duration
	Cap         time.Duration
	Factor      float64
	JitterFrac  float64 // in [0, 1); only meaningful for BackoffJittered
	MaxAttempts int
}

// DefaultRetryPolicy returns a sensible exponential-with-jitter policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:    BackoffJittered,
		BaseDelay:   100 * time.Millisecond,
		Cap:         time.Minute,
		Factor:      2,
		JitterFrac:  0.2,
		MaxAttempts: 5,
	}
}
