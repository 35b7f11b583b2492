package connection

import "time"

// Backoff computes reconnect delays: min(base * 2^(attempt-1), max).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := b.Base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if b.Max > 0 && wait >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && wait > b.Max {
		wait = b.Max
	}
	return wait
}

// Exhausted reports whether no attempts remain after `attempts` were used.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
