package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

// memStore is an in-process Store with the same atomicity as Redis INCR.
type memStore struct {
	mu       sync.Mutex
	counters map[string]int64
	fail     bool
}

func newMemStore() *memStore {
	return &memStore{counters: make(map[string]int64)}
}

func (m *memStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("store down")
	}
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memStore) Decr(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.counters[key]--
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("store down")
	}
	return m.counters[key], nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter(store Store, failOpen bool) *Limiter {
	l := NewLimiter(store, time.Minute, 24*time.Hour, failOpen, testLogger())
	l.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	}
	return l
}

func TestCheck_ExactlyCapacityAdmitted(t *testing.T) {
	const capacity = 5
	const callers = 50

	l := testLimiter(newMemStore(), false)
	limits := core.TierLimits{Tier: core.TierPro, ShortLimit: capacity, LongLimit: 1000}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, denied := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(context.Background(), "actor-1", limits)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed {
				d.Commit()
				allowed++
			} else {
				denied++
			}
		}()
	}
	wg.Wait()

	if allowed != capacity {
		t.Errorf("allowed = %d, want exactly %d", allowed, capacity)
	}
	if denied != callers-capacity {
		t.Errorf("denied = %d, want %d", denied, callers-capacity)
	}
}

func TestCheck_DenialCarriesWindowRollover(t *testing.T) {
	l := testLimiter(newMemStore(), false)
	limits := core.TierLimits{Tier: core.TierPro, ShortLimit: 5, LongLimit: 1000}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "actor-1", limits)
		if err != nil || !d.Allowed {
			t.Fatalf("call %d: allowed=%v err=%v", i+1, d != nil && d.Allowed, err)
		}
		d.Commit()
	}

	d, err := l.Check(ctx, "actor-1", limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th call in the window must be denied")
	}
	// now is fixed at :30 into a 1m window, so the rollover is 30s away.
	if d.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", d.RetryAfter)
	}

	// After the window rolls over the actor is admitted again.
	l.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 1, 5, 0, time.UTC)
	}
	d, err = l.Check(ctx, "actor-1", limits)
	if err != nil || !d.Allowed {
		t.Fatalf("post-rollover check: allowed=%v err=%v", d != nil && d.Allowed, err)
	}
}

func TestCheck_LongWindowDenialRollsBackShort(t *testing.T) {
	store := newMemStore()
	l := testLimiter(store, false)
	limits := core.TierLimits{Tier: core.TierFree, ShortLimit: 100, LongLimit: 1}

	ctx := context.Background()
	d, _ := l.Check(ctx, "actor-1", limits)
	d.Commit()

	d, err := l.Check(ctx, "actor-1", limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("second call must hit the long-window limit")
	}

	// The short-window unit reserved before the long-window denial must be
	// returned, or denied calls would burn short-window quota.
	shortKey := windowKey("actor-1", windowShort, windowStart(l.now(), time.Minute))
	if n, _ := store.Get(ctx, shortKey); n != 1 {
		t.Errorf("short counter = %d after long-window denial, want 1", n)
	}
}

func TestDecision_ReleaseReturnsUnits(t *testing.T) {
	store := newMemStore()
	l := testLimiter(store, false)
	limits := core.TierLimits{Tier: core.TierPro, ShortLimit: 1, LongLimit: 1}

	ctx := context.Background()
	d, err := l.Check(ctx, "actor-1", limits)
	if err != nil || !d.Allowed {
		t.Fatalf("first check: allowed=%v err=%v", d != nil && d.Allowed, err)
	}
	d.Release(ctx)
	// Release after Release is a no-op.
	d.Release(ctx)

	d, err = l.Check(ctx, "actor-1", limits)
	if err != nil || !d.Allowed {
		t.Fatal("released unit must be reusable")
	}
	d.Commit()
	// Release after Commit must not return committed units.
	d.Release(ctx)

	d, err = l.Check(ctx, "actor-1", limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("committed unit must stay counted")
	}
}

func TestCheck_StoreDown(t *testing.T) {
	store := newMemStore()
	store.fail = true

	t.Run("fail-open tier admitted degraded", func(t *testing.T) {
		l := testLimiter(store, false)
		limits := core.TierLimits{Tier: core.TierFree, ShortLimit: 1, LongLimit: 5, FailOpen: true}
		d, err := l.Check(context.Background(), "actor-1", limits)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed || !d.Degraded {
			t.Errorf("decision = %+v, want allowed and degraded", d)
		}
		// Nothing was reserved, so Release must not touch the store.
		d.Release(context.Background())
	})

	t.Run("fail-closed tier refused", func(t *testing.T) {
		l := testLimiter(store, false)
		limits := core.TierLimits{Tier: core.TierPro, ShortLimit: 5, LongLimit: 50}
		_, err := l.Check(context.Background(), "actor-1", limits)
		if core.ErrorKind(err) != core.ErrKindStoreUnavailable {
			t.Errorf("error kind = %q, want %q", core.ErrorKind(err), core.ErrKindStoreUnavailable)
		}
	})

	t.Run("limiter default fail-open", func(t *testing.T) {
		l := testLimiter(store, true)
		limits := core.TierLimits{Tier: core.TierPro, ShortLimit: 5, LongLimit: 50}
		d, err := l.Check(context.Background(), "actor-1", limits)
		if err != nil || !d.Allowed {
			t.Errorf("default fail-open limiter must admit, got d=%+v err=%v", d, err)
		}
	})
}

func TestStatus(t *testing.T) {
	store := newMemStore()
	l := testLimiter(store, false)
	limits := core.TierLimits{Tier: core.TierPro, ShortLimit: 5, LongLimit: 50}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, _ := l.Check(ctx, "actor-1", limits)
		d.Commit()
	}

	short, long, err := l.Status(ctx, "actor-1", limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if short.Used != 3 || short.Remaining != 2 {
		t.Errorf("short = %+v, want used 3 remaining 2", short)
	}
	if long.Used != 3 || long.Remaining != 47 {
		t.Errorf("long = %+v, want used 3 remaining 47", long)
	}
	wantReset := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)
	if !short.ResetsAt.Equal(wantReset) {
		t.Errorf("short ResetsAt = %v, want %v", short.ResetsAt, wantReset)
	}
}
