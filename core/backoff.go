package core

import "time"

// Backoff defines how long an idle worker waits between rounds of searching
// for work, and how long it waits when the fiber pool is exhausted.
type Backoff struct {
	// InitialDelay is the delay after the first empty round
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between rounds
	MaxDelay time.Duration

	// BackoffRatio is the multiplier for delay after each empty round (e.g., 2.0 for exponential)
	// For example, with InitialDelay=50us and BackoffRatio=2.0:
	// - Round 1 delay: 50us
	// - Round 2 delay: 100us
	// - Round 3 delay: 200us (capped by MaxDelay)
	BackoffRatio float64
}

// DefaultBackoff returns the idle backoff used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 50 * time.Microsecond,
		MaxDelay:     2 * time.Millisecond,
		BackoffRatio: 2.0,
	}
}

// delay calculates the delay for the given attempt.
// attempt is 0-indexed (0 = first empty round, 1 = second, etc.)
func (b Backoff) delay(attempt int) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}

	d := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= b.BackoffRatio
		if d >= float64(b.MaxDelay) {
			break
		}
	}

	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}

	return time.Duration(d)
}
