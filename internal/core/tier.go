package core

// Tier names. A tier is a named quota profile; the ingress resolves an
// actor's tier and snapshots the limits onto the job at enqueue time.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// TierLimits is the quota snapshot carried on every job. ShortLimit and
// LongLimit are capacities for the limiter's two windows. FailOpen marks
// best-effort tiers that are admitted when the quota store is unreachable;
// paid tiers fail closed.
type TierLimits struct {
	Tier       string `json:"tier"`
	ShortLimit int    `json:"short_limit"`
	LongLimit  int    `json:"long_limit"`
	FailOpen   bool   `json:"fail_open"`
}

// DefaultTierLimits returns the built-in limits for a named tier. Unknown
// tiers get the free profile.
func DefaultTierLimits(tier string) TierLimits {
	switch tier {
	case TierPro:
		return TierLimits{Tier: TierPro, ShortLimit: 5, LongLimit: 50}
	case TierEnterprise:
		return TierLimits{Tier: TierEnterprise, ShortLimit: 20, LongLimit: 500}
	default:
		return TierLimits{Tier: TierFree, ShortLimit: 1, LongLimit: 5, FailOpen: true}
	}
}
