package dispatcher

import (
	"math"
	"time"

	"fieldsync/internal/config"
)

// RetryPolicy defines exponential backoff parameters. It is a pure function
// of (attempts, lastFailureTime): no hidden state, so eligibility decisions
// are reproducible and independently testable.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig builds a RetryPolicy from configuration.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Exhausted reports whether a record that has made the given number of
// attempts is out of retries.
func (r RetryPolicy) Exhausted(attempts int) bool {
	max := r.MaxAttempts
	if max <= 0 {
		max = 5
	}
	return attempts >= max
}

// NextRetryAt returns the earliest time a record that failed its attempts-th
// attempt at lastFailure may be retried.
func (r RetryPolicy) NextRetryAt(attempts int, lastFailure time.Time) time.Time {
	return lastFailure.Add(r.NextDelay(attempts))
}

// Eligible reports whether a failed record may be retried at now, given its
// attempt count and the time of its last failure.
func (r RetryPolicy) Eligible(attempts int, lastFailure, now time.Time) bool {
	if r.Exhausted(attempts) {
		return false
	}
	return !now.Before(r.NextRetryAt(attempts, lastFailure))
}
