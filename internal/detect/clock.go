// Package detect turns raw sensor readings into scored strikes.
package detect

import "time"

// Clock reports monotonic time since an arbitrary origin.
type Clock interface {
	Micros() int64
}

// Millis converts a clock reading to milliseconds.
func Millis(c Clock) int64 {
	return c.Micros() / 1000
}

// MonotonicClock counts from its creation using the runtime monotonic clock.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a clock whose zero is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Micros implements Clock.
func (c *MonotonicClock) Micros() int64 {
	return time.Since(c.origin).Microseconds()
}
