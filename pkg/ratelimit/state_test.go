package ratelimit

import (
	"testing"
	"time"
)

func TestQuotaWindow_Exhausted(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{name: "plenty left", remaining: 300, expected: false},
		{name: "at threshold", remaining: SafetyThreshold, expected: false},
		{name: "just below threshold", remaining: SafetyThreshold - 1, expected: true},
		{name: "zero remaining", remaining: 0, expected: true},
		{name: "over-decremented", remaining: -3, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := QuotaWindow{Limit: 300, Remaining: tt.remaining}
			if got := w.Exhausted(SafetyThreshold); got != tt.expected {
				t.Errorf("Exhausted() = %v, want %v (remaining=%d)", got, tt.expected, tt.remaining)
			}
		})
	}
}

func TestQuotaWindow_WaitUntilReset(t *testing.T) {
	now := time.Unix(1_600_000_000, 400*int64(time.Millisecond))

	tests := []struct {
		name     string
		resetAt  int64
		expected time.Duration
	}{
		{name: "reset in five seconds", resetAt: now.Unix() + 5, expected: 6 * time.Second},
		{name: "reset now", resetAt: now.Unix(), expected: time.Second},
		{name: "reset one second ago", resetAt: now.Unix() - 1, expected: 0},
		{name: "reset long ago", resetAt: now.Unix() - 60, expected: -59 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := QuotaWindow{ResetAt: tt.resetAt}
			if got := w.WaitUntilReset(now); got != tt.expected {
				t.Errorf("WaitUntilReset() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQuotaWindow_SinceLastRequest(t *testing.T) {
	now := time.UnixMilli(1_600_000_000_000)

	w := QuotaWindow{LastRequestAt: now.UnixMilli() - 250}
	if got := w.SinceLastRequest(now); got != 250*time.Millisecond {
		t.Errorf("SinceLastRequest() = %v, want 250ms", got)
	}

	var never QuotaWindow
	if got := never.SinceLastRequest(now); got < time.Hour {
		t.Errorf("SinceLastRequest() for a fresh window = %v, want a very long duration", got)
	}
}

func TestFallbackWindow(t *testing.T) {
	now := time.Unix(1_600_000_000, 0)
	w := fallbackWindow(EndpointLimit{Limit: 300, Remaining: 300}, now)

	if w.Origin != OriginLocalFallback {
		t.Errorf("Origin = %s, want %s", w.Origin, OriginLocalFallback)
	}
	if w.Remaining != 300 || w.Limit != 300 {
		t.Errorf("window = %d/%d, want 300/300", w.Remaining, w.Limit)
	}
	if want := now.Add(15 * time.Minute).Unix(); w.ResetAt != want {
		t.Errorf("ResetAt = %d, want %d", w.ResetAt, want)
	}
	if w.LastRequestAt != 0 {
		t.Errorf("LastRequestAt = %d, want 0", w.LastRequestAt)
	}
}

func TestDefaultLimits(t *testing.T) {
	for _, endpoint := range []string{"tweets/search/all", "tweets"} {
		limit, ok := DefaultLimits[endpoint]
		if !ok {
			t.Fatalf("DefaultLimits has no entry for %q", endpoint)
		}
		if limit.Limit != 300 || limit.Remaining != 300 {
			t.Errorf("DefaultLimits[%q] = %d/%d, want 300/300", endpoint, limit.Remaining, limit.Limit)
		}
		if limit.MinInterval != time.Second {
			t.Errorf("DefaultLimits[%q].MinInterval = %v, want 1s", endpoint, limit.MinInterval)
		}
	}

	if fallbackLimit.Remaining < SafetyThreshold {
		t.Errorf("fallback remaining %d is below the safety threshold", fallbackLimit.Remaining)
	}
}
