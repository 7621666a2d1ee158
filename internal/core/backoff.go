package core

import (
	"math"
	"math/rand"
	"time"
)

// CalculateBackoff computes the delay before retry number `attempt`
// (1-based): min(base * multiplier^(attempt-1), maxDelay) * (1 ± jitter).
// It is a pure function of the policy and attempt apart from the jitter
// draw, so tests can assert exact values with Jitter set to zero.
func CalculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if policy.Jitter > 0 {
		spread := policy.Jitter
		if spread > 1 {
			spread = 1
		}
		factor := 1 + (rand.Float64()*2-1)*spread
		delay *= factor
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
