package loader

import "time"

// Backoff is the retry policy applied to network download attempts.
// It is pure: given an attempt number and a wall clock reading, the
// next-allowed download time is fully determined. The constants shape
// traffic only; correctness of the loader does not depend on them.
type Backoff struct {
	// InitialDelay is the wait imposed after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier grows the delay per failed attempt. Values <= 1 mean a
	// constant delay.
	Multiplier float64

	// MaxAttempts bounds total downloads. Once this many attempts have
	// failed the loader finishes with ErrAttemptsExhausted.
	MaxAttempts int
}

// DefaultBackoff returns the policy used when the caller does not
// override it.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		MaxAttempts:  2,
	}
}

// Delay returns the minimum wait after the attempt-th failed download
// (1-based). Attempt numbers below 1 yield the initial delay.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.InitialDelay
	if d <= 0 {
		d = time.Minute
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// NextAllowed returns the earliest instant at which another download may
// start, given that the attempt-th attempt just failed at now.
func (b Backoff) NextAllowed(attempt int, now time.Time) time.Time {
	return now.Add(b.Delay(attempt))
}

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(attempts int) bool {
	max := b.MaxAttempts
	if max <= 0 {
		max = DefaultBackoff().MaxAttempts
	}
	return attempts >= max
}
