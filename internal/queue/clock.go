package queue

import "time"

// Clock abstracts time so backoff and rate-limit behavior is testable
// without real waiting.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock uses the system wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// After waits on the system timer.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
