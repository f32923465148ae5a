package github

import "time"

// maxBackoffShift bounds the exponent so the shift cannot overflow.
const maxBackoffShift = 30

// Backoff computes the sleep between attempts as Unit * 2^attempt, without
// jitter. A positive Max caps the delay.
type Backoff struct {
	Unit time.Duration
	Max  time.Duration
}

// DefaultBackoff uses one-second units and no cap.
func DefaultBackoff() Backoff {
	return Backoff{Unit: time.Second}
}

// Delay returns the wait after the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	unit := b.Unit
	if unit <= 0 {
		unit = time.Second
	}
	attempt = max(0, min(attempt, maxBackoffShift))
	delay := unit << uint(attempt)
	if delay <= 0 {
		delay = time.Duration(1<<63 - 1)
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
