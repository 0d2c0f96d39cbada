// Package clock provides an injectable time source.
//
// All components that need the current time take a Clock instead of
// calling time.Now directly, so tests can replay fixed timelines and
// signal hashing stays deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current UTC time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock. Times are always returned in UTC.
type System struct{}

// NewSystem creates a wall clock.
func NewSystem() *System { return &System{} }

// Now returns the current UTC time.
func (*System) Now() time.Time { return time.Now().UTC() }

// Fixed is a test clock that returns a programmable instant.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a clock frozen at t (normalized to UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the frozen clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the frozen clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}
