package queue

import "time"

// Decision is the outcome of a failed send attempt: either wait Delay and
// retry, or give up.
type Decision struct {
	Terminal bool
	Delay    time.Duration
}

// RetryScheduler translates a send failure into a fixed backoff delay or a
// terminal failure. Delays come from a fixed lookup table indexed by the
// post-increment attempt count; no jitter is applied because the channel
// carries one task at a time.
type RetryScheduler struct {
	maxAttempts int
	schedule    []time.Duration
}

func NewRetryScheduler(maxAttempts int, schedule []time.Duration) *RetryScheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if len(schedule) == 0 {
		schedule = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	}
	return &RetryScheduler{maxAttempts: maxAttempts, schedule: schedule}
}

// OnFailure takes the pre-increment attempt count and returns the new count
// together with the retry decision.
func (s *RetryScheduler) OnFailure(attempts int) (int, Decision) {
	n := attempts + 1
	if n >= s.maxAttempts {
		return n, Decision{Terminal: true}
	}
	idx := n - 1
	if idx >= len(s.schedule) {
		idx = len(s.schedule) - 1
	}
	return n, Decision{Delay: s.schedule[idx]}
}
