package actor

import "time"

// Clock is the time source for anything that compares against "now", such as
// credential expiry. Reducers never read it; callers stamp inputs instead.
type Clock interface {
	Now() time.Time
}

// RealClock is backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
