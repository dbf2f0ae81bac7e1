package adapt

import "time"

// TimeProvider abstracts time for deterministic testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

// DefaultTimeProvider implements TimeProvider using the system clock.
type DefaultTimeProvider struct{}

// Now returns the current system time.
func (DefaultTimeProvider) Now() time.Time {
	return time.Now()
}
