package backoff

import "time"

// Policy is a bounded exponential backoff: Initial doubled per attempt,
// capped at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Interval returns the wait before the given retry attempt (0-based).
func (p Policy) Interval(attempt int) time.Duration {
	wait := p.Initial
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= p.Max {
			return p.Max
		}
	}
	if wait > p.Max {
		return p.Max
	}
	return wait
}
