package queue

import "time"

// RateLimiter enforces a minimum wall-clock gap between the start of two
// consecutive send attempts. It is global to the queue: the process drives
// exactly one physical delivery channel, so recipients are not distinguished.
type RateLimiter struct {
	minInterval time.Duration
	lastSend    time.Time
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// TryAcquire either records now as the last send time and returns ok, or
// returns the remaining wait until the next attempt may start.
func (r *RateLimiter) TryAcquire(now time.Time) (time.Duration, bool) {
	if r.minInterval <= 0 || r.lastSend.IsZero() {
		r.lastSend = now
		return 0, true
	}
	elapsed := now.Sub(r.lastSend)
	if elapsed >= r.minInterval {
		r.lastSend = now
		return 0, true
	}
	return r.minInterval - elapsed, false
}
