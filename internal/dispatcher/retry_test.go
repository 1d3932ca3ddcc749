package dispatcher

import (
	"testing"
	"time"
)

func TestNextDelayExponentialGrowth(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Hour,
		BackoffFactor: 2,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.NextDelay(tc.attempt); got != tc.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNextDelayClampedToMax(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 3,
	}
	if got := policy.NextDelay(10); got != 30*time.Second {
		t.Errorf("NextDelay(10) = %v, want clamp to 30s", got)
	}
}

func TestNextDelayDefaults(t *testing.T) {
	var policy RetryPolicy
	if got := policy.NextDelay(0); got <= 0 {
		t.Errorf("NextDelay with zero policy = %v, want positive", got)
	}
}

func TestExhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	if policy.Exhausted(2) {
		t.Error("Exhausted(2) = true with max 3")
	}
	if !policy.Exhausted(3) {
		t.Error("Exhausted(3) = false with max 3")
	}
	if !policy.Exhausted(4) {
		t.Error("Exhausted(4) = false with max 3")
	}
}

func TestEligible(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Second,
		MaxDelay:      time.Hour,
		BackoffFactor: 2,
	}

	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if policy.Eligible(1, failedAt, failedAt.Add(5*time.Second)) {
		t.Error("eligible before backoff elapsed")
	}
	if !policy.Eligible(1, failedAt, failedAt.Add(10*time.Second)) {
		t.Error("not eligible exactly at backoff boundary")
	}
	if policy.Eligible(5, failedAt, failedAt.Add(time.Hour)) {
		t.Error("eligible after attempts exhausted")
	}
}
