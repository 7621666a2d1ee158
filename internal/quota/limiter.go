package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
)

const (
	windowShort = "short"
	windowLong  = "long"
)

// Limiter admits work against an actor's tier limits over two fixed
// windows. Check reserves a unit in both windows atomically with respect to
// other callers; the caller finalizes with Commit or returns the unit with
// Release when the work it reserved for never happens.
type Limiter struct {
	store       Store
	shortWindow time.Duration
	longWindow  time.Duration
	failOpen    bool
	logger      *slog.Logger

	now func() time.Time
}

// NewLimiter builds a limiter over store. failOpen is the default policy for
// store outages; a tier snapshot's own FailOpen flag also admits.
func NewLimiter(store Store, shortWindow, longWindow time.Duration, failOpen bool, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:       store,
		shortWindow: shortWindow,
		longWindow:  longWindow,
		failOpen:    failOpen,
		logger:      logger,
		now:         time.Now,
	}
}

// Decision is the outcome of a quota check. An allowed decision holds a
// reservation until Commit or Release; a denied decision carries the wait
// until the nearest saturated window rolls over.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Degraded   bool // admitted fail-open while the store was unreachable

	release func(ctx context.Context)
	done    bool
}

// Commit finalizes the reservation. The units stay counted.
func (d *Decision) Commit() {
	d.done = true
}

// Release returns the reserved units, for work that was admitted but never
// performed. No-op after Commit or on a denied decision.
func (d *Decision) Release(ctx context.Context) {
	if d.done || d.release == nil {
		return
	}
	d.done = true
	d.release(ctx)
}

// Check reserves one unit of quota for actorID under limits. Reservation is
// increment-then-compare: the counter is bumped first and rolled back if it
// landed over capacity, so N concurrent callers against capacity C admit
// exactly C.
func (l *Limiter) Check(ctx context.Context, actorID string, limits core.TierLimits) (*Decision, error) {
	now := l.now()
	shortStart := windowStart(now, l.shortWindow)
	longStart := windowStart(now, l.longWindow)
	shortKey := windowKey(actorID, windowShort, shortStart)
	longKey := windowKey(actorID, windowLong, longStart)

	shortCount, err := l.store.Incr(ctx, shortKey, 2*l.shortWindow)
	if err != nil {
		return l.storeDown(actorID, limits, err)
	}
	if shortCount > int64(limits.ShortLimit) {
		l.rollback(ctx, shortKey)
		retryAfter := shortStart.Add(l.shortWindow).Sub(now)
		metrics.QuotaDecisions.WithLabelValues(limits.Tier, "denied").Inc()
		return &Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	longCount, err := l.store.Incr(ctx, longKey, 2*l.longWindow)
	if err != nil {
		l.rollback(ctx, shortKey)
		return l.storeDown(actorID, limits, err)
	}
	if longCount > int64(limits.LongLimit) {
		l.rollback(ctx, shortKey)
		l.rollback(ctx, longKey)
		retryAfter := longStart.Add(l.longWindow).Sub(now)
		metrics.QuotaDecisions.WithLabelValues(limits.Tier, "denied").Inc()
		return &Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	metrics.QuotaDecisions.WithLabelValues(limits.Tier, "allowed").Inc()
	return &Decision{
		Allowed: true,
		release: func(ctx context.Context) {
			l.rollback(ctx, shortKey)
			l.rollback(ctx, longKey)
		},
	}, nil
}

// storeDown resolves a quota-store outage: best-effort tiers are admitted
// untracked, everything else is refused as store_unavailable.
func (l *Limiter) storeDown(actorID string, limits core.TierLimits, err error) (*Decision, error) {
	if limits.FailOpen || l.failOpen {
		l.logger.Warn("quota store unreachable, admitting fail-open",
			"actor_id", actorID, "tier", limits.Tier, "error", err)
		metrics.QuotaDecisions.WithLabelValues(limits.Tier, "degraded").Inc()
		return &Decision{Allowed: true, Degraded: true}, nil
	}
	metrics.QuotaDecisions.WithLabelValues(limits.Tier, "unavailable").Inc()
	return nil, core.NewStoreUnavailableError("quota store", err)
}

func (l *Limiter) rollback(ctx context.Context, key string) {
	if err := l.store.Decr(ctx, key); err != nil {
		// The counter leaks one unit until the window expires. Acceptable:
		// over-counting only under-admits.
		l.logger.Warn("quota rollback failed", "key", key, "error", err)
	}
}

// WindowUsage reports one window's consumption for the status endpoint.
type WindowUsage struct {
	Used      int64     `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Status reads current usage for actorID without reserving anything.
func (l *Limiter) Status(ctx context.Context, actorID string, limits core.TierLimits) (short, long WindowUsage, err error) {
	now := l.now()
	shortStart := windowStart(now, l.shortWindow)
	longStart := windowStart(now, l.longWindow)

	shortUsed, err := l.store.Get(ctx, windowKey(actorID, windowShort, shortStart))
	if err != nil {
		return WindowUsage{}, WindowUsage{}, core.NewStoreUnavailableError("quota store", err)
	}
	longUsed, err := l.store.Get(ctx, windowKey(actorID, windowLong, longStart))
	if err != nil {
		return WindowUsage{}, WindowUsage{}, core.NewStoreUnavailableError("quota store", err)
	}

	short = WindowUsage{
		Used:      shortUsed,
		Limit:     limits.ShortLimit,
		Remaining: max(int64(limits.ShortLimit)-shortUsed, 0),
		ResetsAt:  shortStart.Add(l.shortWindow),
	}
	long = WindowUsage{
		Used:      longUsed,
		Limit:     limits.LongLimit,
		Remaining: max(int64(limits.LongLimit)-longUsed, 0),
		ResetsAt:  longStart.Add(l.longWindow),
	}
	return short, long, nil
}
