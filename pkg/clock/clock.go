// Package clock provides an abstraction for time operations to enable testing.
//
// Rate limiting windows, circuit breaker recovery timers, and cost bucketing all
// depend on "now"; injecting a Clock lets tests drive those behaviors without
// real sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
//
// Production code should use SystemClock. Tests can use Fake to control time
// deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// Fake is a controllable Clock for tests.
//
// The zero value is not usable; create instances with NewFake.
// All methods are safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock pinned to the given time.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to the given time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
