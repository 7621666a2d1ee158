package core

import "time"

// RetryPolicy is a value object shared by the worker (job-level requeue
// delay) and the completion client (transport-level retry delay). The two
// use independent instances: inner retries stay inside a single call, outer
// retries re-enter the queue.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Multiplier  float64       `json:"multiplier"`
	MaxDelay    time.Duration `json:"max_delay"`
	// Jitter is the fractional spread applied to the computed delay, e.g.
	// 0.2 yields a delay in [0.8d, 1.2d].
	Jitter float64 `json:"jitter"`
}

// DefaultJobRetryPolicy is the outer, job-level policy: generous delays
// because the job re-enters a durable queue.
func DefaultJobRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    15 * time.Minute,
		Jitter:      0.2,
	}
}

// DefaultCallRetryPolicy is the inner, transport-level policy used by the
// completion client within one job attempt.
func DefaultCallRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}
