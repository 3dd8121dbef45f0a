package delivery

import "time"

// Backoff is a fixed lookup table of retry intervals indexed by an
// endpoint's failure count. An endpoint whose failure count has reached
// MaxFailures is excluded from replay entirely and left failing until a
// successful delivery (for example a manual test ping) resets it.
type Backoff struct {
	Intervals   []time.Duration
	MaxFailures int
}

// DefaultBackoff returns the standard schedule: 1, 5, 15, 60 and 360
// minutes, capped at five failures.
func DefaultBackoff() Backoff {
	return Backoff{
		Intervals: []time.Duration{
			1 * time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			60 * time.Minute,
			360 * time.Minute,
		},
		MaxFailures: 5,
	}
}

// Interval returns the wait before the next attempt for the given failure
// count. Counts beyond the table clamp to the last entry.
func (b Backoff) Interval(failureCount int) time.Duration {
	if len(b.Intervals) == 0 {
		return 0
	}
	idx := failureCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.Intervals) {
		idx = len(b.Intervals) - 1
	}
	return b.Intervals[idx]
}

// Exhausted reports whether the failure count has consumed the retry budget.
func (b Backoff) Exhausted(failureCount int) bool {
	return b.MaxFailures > 0 && failureCount >= b.MaxFailures
}

// Eligible reports whether an endpoint with the given failure count and
// last attempt time is due for another delivery at now. Endpoints past the
// budget are never eligible, regardless of elapsed time.
func (b Backoff) Eligible(failureCount int, lastAttempt *time.Time, now time.Time) bool {
	if b.Exhausted(failureCount) {
		return false
	}
	if failureCount <= 0 || lastAttempt == nil {
		return true
	}
	return now.Sub(*lastAttempt) >= b.Interval(failureCount)
}
