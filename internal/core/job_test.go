package core

import (
	"testing"
	"time"
)

func TestEnqueueRequest_Validate(t *testing.T) {
	valid := EnqueueRequest{
		ChannelID: "chan-1",
		ActorID:   "actor-1",
		Items:     []Item{{Author: "ann", Text: "hello"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing channel", EnqueueRequest{ActorID: "a", Items: []Item{{Text: "x"}}}},
		{"missing actor", EnqueueRequest{ChannelID: "c", Items: []Item{{Text: "x"}}}},
		{"no items", EnqueueRequest{ChannelID: "c", ActorID: "a"}},
		{"empty item text", EnqueueRequest{ChannelID: "c", ActorID: "a", Items: []Item{{Text: ""}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJob_MaxAttempts(t *testing.T) {
	j := &Job{}
	if got := j.MaxAttempts(); got != DefaultJobRetryPolicy().MaxAttempts {
		t.Errorf("MaxAttempts() = %d, want default %d", got, DefaultJobRetryPolicy().MaxAttempts)
	}

	j.Retry = &RetryPolicy{MaxAttempts: 7}
	if got := j.MaxAttempts(); got != 7 {
		t.Errorf("MaxAttempts() = %d, want 7", got)
	}
}

func TestFormatTime_RoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 123_000_000, time.UTC)
	s := FormatTime(now)
	if s != "2025-06-01T12:30:45.123Z" {
		t.Errorf("FormatTime = %q", s)
	}
	if got := ParseTime(s); !got.Equal(now) {
		t.Errorf("ParseTime(FormatTime(t)) = %v, want %v", got, now)
	}
	if !ParseTime("").IsZero() {
		t.Error("ParseTime(\"\") must return zero time")
	}
}

func TestDefaultTierLimits(t *testing.T) {
	free := DefaultTierLimits("unknown")
	if free.Tier != TierFree || !free.FailOpen {
		t.Errorf("unknown tier = %+v, want free profile with fail-open", free)
	}
	pro := DefaultTierLimits(TierPro)
	if pro.FailOpen {
		t.Error("paid tiers must fail closed")
	}
	if pro.LongLimit <= free.LongLimit {
		t.Error("pro long-window limit must exceed free")
	}
}
